package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DomainEventType names a mutation that other components react to.
type DomainEventType string

const (
	EventCreated      DomainEventType = "event.created"
	EventUpdated      DomainEventType = "event.updated"
	EventDeleted      DomainEventType = "event.deleted"
	EventShared       DomainEventType = "event.shared"
	PermissionChanged DomainEventType = "permission.changed"
)

// DomainEvent describes a committed mutation. Ephemeral: its durable projections
// are Version and Notification rows.
type DomainEvent struct {
	Type    DomainEventType
	EventID uuid.UUID
	ActorID uuid.UUID
	Title   string
	Version int64 // version seq produced by the mutation, 0 if none
	Payload map[string]any
	At      time.Time
}

// Notification is a persisted per-recipient projection of a DomainEvent.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventID   uuid.UUID
	Type      string
	Message   string
	Payload   map[string]any
	IsRead    bool
	CreatedAt time.Time
}
