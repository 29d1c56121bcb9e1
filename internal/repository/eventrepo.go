package repository

import (
	"context"
	"time"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EventRepository stores events together with their version chain.
// The event row and its versions are the unit of mutation.
type EventRepository interface {
	// CreateBatch inserts events, their OWNER permissions and version 1 in one transaction.
	CreateBatch(ctx context.Context, recs []model.NewEventRecord) error

	// Get returns an event by ID, including soft-deleted ones.
	Get(ctx context.Context, id uuid.UUID) (*model.Event, error)

	// CommitVersion writes ev and appends v atomically. The stored current version must be
	// v.Seq-1, otherwise ErrVersionConflict is returned and nothing is written.
	CommitVersion(ctx context.Context, ev *model.Event, v model.Version) error

	// ListVisible returns live events the user holds any permission on that are recurring
	// or overlap [from, to).
	ListVisible(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.Event, error)
}

// VersionRepository reads the append-only version history.
type VersionRepository interface {
	// Latest returns the newest version of an event.
	Latest(ctx context.Context, eventID uuid.UUID) (*model.Version, error)
	// GetVersion returns version seq of an event.
	GetVersion(ctx context.Context, eventID uuid.UUID, seq int64) (*model.Version, error)
	// ListVersions returns a page of versions ordered by seq.
	ListVersions(ctx context.Context, eventID uuid.UUID, page model.Page) ([]model.Version, error)
}
