package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	pkgcache "MarketPulse/pkg/cache"
)

const statePrefix = "state"

// CacheStateStore keeps MarketRuntimeState as JSON under state:<market> in
// a cache.Service, Redis in production and memory otherwise.
type CacheStateStore struct {
	cache pkgcache.Service
	ttl   time.Duration
}

// NewCacheStateStore creates a store. A zero ttl keeps records forever.
func NewCacheStateStore(c pkgcache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{cache: c, ttl: ttl}
}

func stateKey(market string) string { return pkgcache.Key(statePrefix, market) }

func (s *CacheStateStore) Load(ctx context.Context, market string) (*models.MarketRuntimeState, error) {
	var st models.MarketRuntimeState
	if err := s.cache.Get(ctx, stateKey(market), &st); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state %s: %w", market, err)
	}
	return &st, nil
}

func (s *CacheStateStore) Save(ctx context.Context, st models.MarketRuntimeState) error {
	if st.MarketKey == "" {
		return errors.New("save state: empty market key")
	}
	if err := s.cache.Set(ctx, stateKey(st.MarketKey), st, s.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", st.MarketKey, err)
	}
	return nil
}

func (s *CacheStateStore) Delete(ctx context.Context, market string) error {
	return s.cache.Delete(ctx, stateKey(market))
}

// LoadAll reads several markets in one round trip. Missing markets are absent
// from the result.
func (s *CacheStateStore) LoadAll(ctx context.Context, markets ...string) (map[string]models.MarketRuntimeState, error) {
	keys := make([]string, len(markets))
	for i, m := range markets {
		keys[i] = stateKey(m)
	}
	raw, err := pkgcache.MGetTyped[models.MarketRuntimeState](ctx, s.cache, keys...)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	out := make(map[string]models.MarketRuntimeState, len(raw))
	for _, st := range raw {
		out[st.MarketKey] = st
	}
	return out, nil
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)
