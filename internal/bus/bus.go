// Package bus is the in-process domain-event bus connecting the event service
// to its subscribers (notification hub, audit log).
package bus

import (
	"context"
	"sync"

	"github.com/and161185/teamcal/internal/model"
	"go.uber.org/zap"
)

// Handler consumes a domain event.
type Handler func(ctx context.Context, ev model.DomainEvent) error

type subscriber struct {
	name string
	h    Handler
}

// Bus delivers each published event to every subscriber synchronously, in
// registration order. A failing handler is logged and does not stop the others.
type Bus struct {
	mu   sync.RWMutex
	subs []subscriber
	log  *zap.Logger
}

// New constructs a Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers h under name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, h: h})
}

// Publish runs every handler and returns once all have returned.
func (b *Bus) Publish(ctx context.Context, ev model.DomainEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.call(ctx, s, ev); err != nil {
			b.log.Warn("bus handler failed",
				zap.String("subscriber", s.name),
				zap.String("type", string(ev.Type)),
				zap.String("event_id", ev.EventID.String()),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) call(ctx context.Context, s subscriber, ev model.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus handler panic", zap.String("subscriber", s.name), zap.Any("panic", r))
			err = nil
		}
	}()
	return s.h(ctx, ev)
}

// Audit returns a handler that logs every domain event.
func Audit(log *zap.Logger) Handler {
	return func(_ context.Context, ev model.DomainEvent) error {
		log.Info("audit",
			zap.String("action", string(ev.Type)),
			zap.String("event_id", ev.EventID.String()),
			zap.String("actor_id", ev.ActorID.String()),
			zap.Int64("version", ev.Version),
		)
		return nil
	}
}
