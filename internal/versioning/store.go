// Package versioning keeps the append-only version chain of events.
//
// Each mutation is committed as the event row plus version N+1 in one storage call.
// Writers to one event are serialized by an in-process lock; across processes the
// storage-level sequence check decides and the loser retries on the fresh predecessor.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// DefaultMaxRetries bounds the retries after a lost sequence race.
const DefaultMaxRetries = 3

// Authorizer is the subset of permission.Guard used for rollback.
type Authorizer interface {
	Authorize(ctx context.Context, userID, eventID uuid.UUID, c model.Capability) error
}

// Observer receives versioning counters. metrics.Collector implements it.
type Observer interface {
	VersionRecorded(kind model.VersionKind)
	VersionRetried()
}

type nopObserver struct{}

func (nopObserver) VersionRecorded(model.VersionKind) {}
func (nopObserver) VersionRetried() {}

// Config tunes the Store.
type Config struct {
	MaxRetries int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config { return Config{MaxRetries: DefaultMaxRetries} }

// Mutation describes a change to commit. Apply edits the loaded event in place.
// Committed, when set, runs after the version is stored and before the event's
// lock is released, so its side effects follow version order.
type Mutation struct {
	Kind         model.VersionKind
	Author       uuid.UUID
	RolledBackTo int64
	Apply        func(ev *model.Event) error
	Committed    func(ev *model.Event, v model.Version)
}

// Store records and reads versions.
type Store struct {
	events   repository.EventRepository
	versions repository.VersionRepository
	guard    Authorizer
	obs      Observer
	cfg      Config
	locks    *keyedMutex
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(s *Store) { s.obs = o } }

// WithClock overrides time.Now, used in tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore constructs a Store.
func NewStore(events repository.EventRepository, versions repository.VersionRepository, guard Authorizer, cfg Config, opts ...Option) *Store {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	s := &Store{
		events:   events,
		versions: versions,
		guard:    guard,
		obs:      nopObserver{},
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initial builds version 1 for a new event. The caller commits it with the event.
func (s *Store) Initial(ev *model.Event, author uuid.UUID) model.Version {
	s.obs.VersionRecorded(model.VersionCreated)
	snap := ev.Snapshot()
	return model.Version{
		EventID:   ev.ID,
		Seq:       1,
		Kind:      model.VersionCreated,
		Snapshot:  snap,
		Diff:      Baseline(snap),
		AuthorID:  author,
		CreatedAt: ev.CreatedAt,
	}
}

// Commit applies m to the current state of eventID and appends the next version.
// Deleted events are terminal and yield NotFound. An update that changes nothing
// returns the current state and latest version without appending.
func (s *Store) Commit(ctx context.Context, eventID uuid.UUID, m Mutation) (*model.Event, model.Version, error) {
	unlock := s.locks.Lock(eventID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		cur, err := s.events.Get(ctx, eventID)
		if err != nil {
			return nil, model.Version{}, err
		}
		if cur.Deleted {
			return nil, model.Version{}, errs.NotFound(eventID.String(), "event deleted")
		}

		prev := cur.Snapshot()
		next := *cur
		next.Recurrence = cur.Recurrence.Clone()
		if m.Apply != nil {
			if err := m.Apply(&next); err != nil {
				return nil, model.Version{}, err
			}
		}
		snap := next.Snapshot()
		diff := Diff(prev, snap)
		if len(diff) == 0 && m.Kind == model.VersionUpdated {
			latest, err := s.versions.Latest(ctx, eventID)
			if err != nil {
				return nil, model.Version{}, err
			}
			return cur, *latest, nil
		}

		now := s.now()
		next.UpdatedAt = now
		v := model.Version{
			EventID:      eventID,
			Seq:          cur.Version + 1,
			Kind:         m.Kind,
			Snapshot:     snap,
			Diff:         diff,
			AuthorID:     m.Author,
			RolledBackTo: m.RolledBackTo,
			CreatedAt:    now,
		}
		err = s.events.CommitVersion(ctx, &next, v)
		if err == nil {
			next.Version = v.Seq
			s.obs.VersionRecorded(v.Kind)
			if m.Committed != nil {
				m.Committed(&next, v)
			}
			return &next, v, nil
		}
		if !errors.Is(err, errs.ErrVersionConflict) {
			return nil, model.Version{}, err
		}
		if attempt >= s.cfg.MaxRetries {
			return nil, model.Version{}, errs.Conflict(eventID.String(),
				fmt.Sprintf("version race lost after %d retries", attempt))
		}
		s.obs.VersionRetried()
	}
}

// Record appends snap as the next version of eventID.
func (s *Store) Record(ctx context.Context, eventID uuid.UUID, snap model.Snapshot, author uuid.UUID) (model.Version, error) {
	_, v, err := s.Commit(ctx, eventID, Mutation{
		Kind:   model.VersionUpdated,
		Author: author,
		Apply: func(ev *model.Event) error {
			ev.Restore(snap)
			return nil
		},
	})
	return v, err
}

// Rollback appends a version whose snapshot equals version targetSeq. The actor needs EDIT.
// committed may be nil; see Mutation.Committed.
func (s *Store) Rollback(ctx context.Context, eventID uuid.UUID, targetSeq int64, actor uuid.UUID,
	committed func(ev *model.Event, v model.Version)) (*model.Event, model.Version, error) {
	if err := s.guard.Authorize(ctx, actor, eventID, model.CapEdit); err != nil {
		return nil, model.Version{}, err
	}
	target, err := s.versions.GetVersion(ctx, eventID, targetSeq)
	if err != nil {
		return nil, model.Version{}, err
	}
	if target.Snapshot.Deleted {
		return nil, model.Version{}, errs.InvalidOperation(eventID.String(), "cannot roll back to a deleted state")
	}
	return s.Commit(ctx, eventID, Mutation{
		Kind:         model.VersionRollback,
		Author:       actor,
		RolledBackTo: targetSeq,
		Apply: func(ev *model.Event) error {
			ev.Restore(target.Snapshot)
			return nil
		},
		Committed: committed,
	})
}

// History returns a page of versions.
func (s *Store) History(ctx context.Context, eventID uuid.UUID, page model.Page) ([]model.Version, error) {
	return s.versions.ListVersions(ctx, eventID, page.Normalize())
}

// Get returns version seq.
func (s *Store) Get(ctx context.Context, eventID uuid.UUID, seq int64) (*model.Version, error) {
	return s.versions.GetVersion(ctx, eventID, seq)
}

// Compare returns the changes needed to go from version from to version to.
func (s *Store) Compare(ctx context.Context, eventID uuid.UUID, from, to int64) ([]model.FieldChange, error) {
	a, err := s.versions.GetVersion(ctx, eventID, from)
	if err != nil {
		return nil, err
	}
	b, err := s.versions.GetVersion(ctx, eventID, to)
	if err != nil {
		return nil, err
	}
	return Diff(a.Snapshot, b.Snapshot), nil
}
