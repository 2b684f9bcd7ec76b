package eventbus

import (
	"context"
	"fmt"
	"sync"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

const defaultBuffer = 64

// Bus is the publish surface of the monitor. The primary sink is the
// durable one; a failure there fails Publish so the caller can retry.
// Subscribers are best effort and never block a publish.
type Bus struct {
	primary domrepo.EventSink
	log     *logger.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.TransitionEvent
	closed bool
}

func New(primary domrepo.EventSink, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{
		primary: primary,
		log:     log.Component("eventbus"),
		subs:    make(map[int]chan models.TransitionEvent),
	}
}

func (b *Bus) Publish(ctx context.Context, ev models.TransitionEvent) error {
	if b.primary != nil {
		if err := b.primary.Publish(ctx, ev); err != nil {
			return fmt.Errorf("primary sink: %w", err)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("subscriber lagging, event dropped",
				logger.Int("subscriber", id),
				logger.Market(ev.MarketKey),
				logger.String("event", ev.Name()),
			)
		}
	}
	return nil
}

// Subscribe registers a buffered listener. The returned func unsubscribes
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan models.TransitionEvent, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan models.TransitionEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Close drops every subscriber. Publish keeps working for the primary sink.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ domrepo.EventSink = (*Bus)(nil)
