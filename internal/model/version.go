package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// VersionKind tells what kind of mutation produced a version.
type VersionKind string

const (
	VersionCreated  VersionKind = "created"
	VersionUpdated  VersionKind = "updated"
	VersionDeleted  VersionKind = "deleted"
	VersionRollback VersionKind = "rollback"
)

// FieldChange is one entry of a structural diff. Scalar fields use Old/New;
// set-valued fields (exception dates) use Added/Removed.
type FieldChange struct {
	Field   string      `json:"field"`
	Old     any         `json:"old,omitempty"`
	New     any         `json:"new,omitempty"`
	Added   []time.Time `json:"added,omitempty"`
	Removed []time.Time `json:"removed,omitempty"`
}

// Version is an immutable entry in an event's history. Seq starts at 1 and is gapless.
type Version struct {
	EventID      uuid.UUID
	Seq          int64
	Kind         VersionKind
	Snapshot     Snapshot
	Diff         []FieldChange
	AuthorID     uuid.UUID
	RolledBackTo int64 // target seq for rollback versions, else 0
	CreatedAt    time.Time
}

// Page selects a window of an ordered listing.
type Page struct {
	Offset int
	Limit  int
	Desc   bool // newest first
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps Offset and Limit to sane bounds.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
