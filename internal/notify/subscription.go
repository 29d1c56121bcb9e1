package notify

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Subscription is one live channel of a user with its pending queue.
type Subscription struct {
	UserID uuid.UUID

	hub   *Hub
	ch    Channel
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// enqueue never blocks: a full queue means the consumer fell behind and the channel is dropped.
func (s *Subscription) enqueue(msg []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- msg:
	default:
		s.end(DropBacklog)
	}
}

func (s *Subscription) writer() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), s.hub.cfg.SendTimeout)
			err := s.ch.Push(ctx, msg)
			cancel()
			if err != nil {
				s.hub.log.Info("live push failed", zap.String("user_id", s.UserID.String()), zap.Error(err))
				s.end(DropPush)
				return
			}
			s.hub.obs.Pushed()
		}
	}
}

// end deregisters the subscription once. An empty reason is a regular unsubscribe.
// Queued messages are discarded; they stay readable as stored notifications.
func (s *Subscription) end(reason string) {
	s.once.Do(func() {
		removed := s.hub.remove(s)
		if err := s.ch.Close(); err != nil {
			s.hub.log.Debug("close channel", zap.Error(err))
		}
		if removed {
			s.hub.obs.ChannelClosed()
		}
		if reason != "" {
			s.hub.obs.ChannelDropped(reason)
			s.hub.log.Info("live channel dropped", zap.String("user_id", s.UserID.String()), zap.String("reason", reason))
		}
		close(s.done)
	})
}
