// Package memory contains in-process implementations of repository interfaces
// with the same semantics as the PostgreSQL backend. Used for -storage=memory and tests.
package memory

import (
	"sync"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

type permKey struct{ event, user uuid.UUID }

// Store holds all tables behind one lock so multi-table writes stay atomic.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]model.User
	usernames     map[string]uuid.UUID
	events        map[uuid.UUID]model.Event
	versions      map[uuid.UUID][]model.Version
	perms         map[permKey]model.Permission
	notifications map[uuid.UUID][]model.Notification // by user, append order
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]model.User),
		usernames:     make(map[string]uuid.UUID),
		events:        make(map[uuid.UUID]model.Event),
		versions:      make(map[uuid.UUID][]model.Version),
		perms:         make(map[permKey]model.Permission),
		notifications: make(map[uuid.UUID][]model.Notification),
	}
}

// Users returns the user repository view.
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Events returns the event and version repository view.
func (s *Store) Events() *EventRepo { return &EventRepo{s: s} }

// Permissions returns the permission repository view.
func (s *Store) Permissions() *PermissionRepo { return &PermissionRepo{s: s} }

// Notifications returns the notification repository view.
func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s: s} }

func cloneEvent(e model.Event) model.Event {
	e.Recurrence = e.Recurrence.Clone()
	return e
}
