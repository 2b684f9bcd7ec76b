package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/logger"
)

var ErrLockHeld = errors.New("monitor lock held by another instance")

var monitorLockKey = pkgcache.Key("lock", "monitor")

// InstanceLock keeps a single monitor writing state across processes. It is
// refreshed at a third of its ttl; losing it is logged and reported through
// Lost.
type InstanceLock struct {
	cache pkgcache.Service
	token string
	ttl   time.Duration
	log   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
}

func NewInstanceLock(c pkgcache.Service, ttl time.Duration, log *logger.Logger) *InstanceLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &InstanceLock{
		cache: c,
		token: uuid.NewString(),
		ttl:   ttl,
		log:   log.Component("instance_lock"),
		lost:  make(chan struct{}),
	}
}

func (l *InstanceLock) Token() string { return l.token }

// Lost is closed when a refresh finds the lock taken by someone else.
func (l *InstanceLock) Lost() <-chan struct{} { return l.lost }

// Acquire takes the lock and starts refreshing it.
func (l *InstanceLock) Acquire(ctx context.Context) error {
	ok, err := l.cache.TryLock(ctx, monitorLockKey, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("acquire monitor lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}

	rctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()
	go l.refresh(rctx, l.done)
	l.log.Info("monitor lock acquired", logger.String("token", l.token), logger.Duration("ttl_ms", l.ttl))
	return nil
}

func (l *InstanceLock) refresh(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		cctx, cancel := context.WithTimeout(ctx, l.ttl/3)
		ok, err := l.cache.TryLock(cctx, monitorLockKey, l.token, l.ttl)
		cancel()
		switch {
		case err != nil:
			l.log.Warn("monitor lock refresh failed", logger.Error(err))
		case !ok:
			l.log.Error("monitor lock lost to another instance", logger.String("token", l.token))
			close(l.lost)
			return
		}
	}
}

// Release stops refreshing and frees the lock if still owned.
func (l *InstanceLock) Release(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if err := l.cache.Unlock(ctx, monitorLockKey, l.token); err != nil && !errors.Is(err, pkgcache.ErrCacheMiss) {
		return fmt.Errorf("release monitor lock: %w", err)
	}
	return nil
}
