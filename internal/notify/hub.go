// Package notify fans domain events out to recipients: one persisted
// notification per recipient, then best-effort live delivery to that
// recipient's channels. Each channel has its own bounded queue and writer;
// a slow or broken channel is dropped, never waited on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Channel is an outbound live connection. Push delivers one message in order
// and reports failure; Close releases the connection.
type Channel interface {
	Push(ctx context.Context, msg []byte) error
	Close() error
}

// Recipients resolves who may see an event. permission.Guard implements it.
type Recipients interface {
	Viewers(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
}

// Observer receives delivery counters. metrics.Collector implements it.
type Observer interface {
	NotificationsPersisted(n int)
	Pushed()
	ChannelDropped(reason string)
	ChannelOpened()
	ChannelClosed()
}

type nopObserver struct{}

func (nopObserver) NotificationsPersisted(int) {}
func (nopObserver) Pushed() {}
func (nopObserver) ChannelDropped(string) {}
func (nopObserver) ChannelOpened() {}
func (nopObserver) ChannelClosed() {}

// Drop reasons.
const (
	DropBacklog  = "backlog"
	DropPush     = "push_failed"
	DropShutdown = "shutdown"
)

// PayloadTargetUser names the DomainEvent payload key carrying the user whose
// access changed. That user is notified even when no longer a viewer.
const PayloadTargetUser = "target_user_id"

// Config tunes the Hub.
type Config struct {
	MaxConnsPerUser int           // live channels per user
	QueueSize       int           // pending messages per channel before it is dropped
	SendTimeout     time.Duration // limit for a single Push
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxConnsPerUser: 5, QueueSize: 64, SendTimeout: 5 * time.Second}
}

// Hub owns live subscriptions and notification fan-out.
type Hub struct {
	repo       repository.NotificationRepository
	recipients Recipients
	cfg        Config
	log        *zap.Logger
	obs        Observer
	now        func() time.Time
	newID      func() (uuid.UUID, error)

	mu     sync.Mutex
	subs   map[uuid.UUID][]*Subscription
	closed bool
}

// Option customizes a Hub.
type Option func(*Hub)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(h *Hub) { h.obs = o } }

// WithClock overrides time.Now, used in tests.
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

// NewHub constructs a Hub.
func NewHub(repo repository.NotificationRepository, recipients Recipients, cfg Config, log *zap.Logger, opts ...Option) *Hub {
	if cfg.MaxConnsPerUser <= 0 {
		cfg.MaxConnsPerUser = DefaultConfig().MaxConnsPerUser
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		repo:       repo,
		recipients: recipients,
		cfg:        cfg,
		log:        log,
		obs:        nopObserver{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewV4,
		subs:       make(map[uuid.UUID][]*Subscription),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers ch for userID and starts its writer. The first frame on
// ch is always {"type":"subscribed","user_id":...}. It fails with
// ResourceExhausted when the user already has MaxConnsPerUser channels.
func (h *Hub) Subscribe(userID uuid.UUID, ch Channel) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errs.InvalidOperation(userID.String(), "hub is shut down")
	}
	if len(h.subs[userID]) >= h.cfg.MaxConnsPerUser {
		return nil, errs.ResourceExhausted(userID.String(),
			fmt.Sprintf("at most %d live connections per user", h.cfg.MaxConnsPerUser))
	}
	hello, err := json.Marshal(helloFrame{Type: "subscribed", UserID: userID.String()})
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		UserID: userID,
		hub:    h,
		ch:     ch,
		queue:  make(chan []byte, h.cfg.QueueSize),
		done:   make(chan struct{}),
	}
	// queued before the subscription is visible to Publish
	s.queue <- hello
	h.subs[userID] = append(h.subs[userID], s)
	h.obs.ChannelOpened()
	go s.writer()
	return s, nil
}

// Unsubscribe deregisters s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	s.end("")
}

// Connections returns the number of live channels of userID.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Publish persists one notification per recipient and queues live delivery.
// It returns once the rows are stored; delivery happens on channel writers.
func (h *Hub) Publish(ctx context.Context, ev model.DomainEvent) ([]model.Notification, error) {
	users, err := h.recipients.Viewers(ctx, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	users = withTarget(users, ev)

	now := h.now()
	msg := Message(ev)
	ns := make([]model.Notification, 0, len(users))
	for _, u := range users {
		id, err := h.newID()
		if err != nil {
			return nil, err
		}
		ns = append(ns, model.Notification{
			ID:        id,
			UserID:    u,
			EventID:   ev.EventID,
			Type:      string(ev.Type),
			Message:   msg,
			Payload:   payload(ev),
			CreatedAt: now,
		})
	}
	if err := h.repo.CreateBatch(ctx, ns); err != nil {
		return nil, fmt.Errorf("persist notifications: %w", err)
	}
	h.obs.NotificationsPersisted(len(ns))

	for _, n := range ns {
		frame, err := Encode(n)
		if err != nil {
			h.log.Error("encode notification", zap.String("notification_id", n.ID.String()), zap.Error(err))
			continue
		}
		for _, s := range h.live(n.UserID) {
			s.enqueue(frame)
		}
	}
	return ns, nil
}

// Handle adapts Publish to the bus handler signature.
func (h *Hub) Handle(ctx context.Context, ev model.DomainEvent) error {
	_, err := h.Publish(ctx, ev)
	return err
}

// Close drops every channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, ss := range h.subs {
		all = append(all, ss...)
	}
	h.mu.Unlock()
	for _, s := range all {
		s.end(DropShutdown)
	}
}

func (h *Hub) live(userID uuid.UUID) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Subscription(nil), h.subs[userID]...)
}

func (h *Hub) remove(s *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss := h.subs[s.UserID]
	for i, x := range ss {
		if x == s {
			ss = append(ss[:i:i], ss[i+1:]...)
			if len(ss) == 0 {
				delete(h.subs, s.UserID)
			} else {
				h.subs[s.UserID] = ss
			}
			return true
		}
	}
	return false
}

// withTarget adds the user named in the payload and orders recipients by ID,
// which fixes the per-publish delivery order.
func withTarget(users []uuid.UUID, ev model.DomainEvent) []uuid.UUID {
	if raw, ok := ev.Payload[PayloadTargetUser].(string); ok {
		if target, err := uuid.FromString(raw); err == nil {
			found := false
			for _, u := range users {
				if u == target {
					found = true
					break
				}
			}
			if !found {
				users = append(users, target)
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return bytes.Compare(users[i][:], users[j][:]) < 0 })
	return users
}

func payload(ev model.DomainEvent) map[string]any {
	p := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		p[k] = v
	}
	p["actor_id"] = ev.ActorID.String()
	p["title"] = ev.Title
	if ev.Version > 0 {
		p["version"] = ev.Version
	}
	return p
}

// Message renders the human text of a notification.
func Message(ev model.DomainEvent) string {
	switch ev.Type {
	case model.EventCreated:
		return "Event created: " + ev.Title
	case model.EventUpdated:
		return "Event " + ev.Title + " was updated"
	case model.EventDeleted:
		return "Event deleted: " + ev.Title
	case model.EventShared:
		if role, ok := ev.Payload["role"].(string); ok {
			return "Event " + ev.Title + " shared with " + role + " access"
		}
		return "Event " + ev.Title + " was shared"
	case model.PermissionChanged:
		if role, ok := ev.Payload["role"].(string); ok && role != "" {
			return "Access to " + ev.Title + " changed to " + role
		}
		return "Access to " + ev.Title + " was removed"
	}
	return "Event " + ev.Title + ": " + string(ev.Type)
}

type helloFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type frame struct {
	Type string    `json:"type"`
	Data frameData `json:"data"`
}

type frameData struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Encode renders the live wire frame {"type":"notification","data":{...}}.
func Encode(n model.Notification) ([]byte, error) {
	return json.Marshal(frame{
		Type: "notification",
		Data: frameData{
			ID:        n.ID.String(),
			Type:      n.Type,
			EventID:   n.EventID.String(),
			Message:   n.Message,
			Data:      n.Payload,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		},
	})
}
