package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/permission"
	"github.com/and161185/teamcal/internal/recurrence"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/and161185/teamcal/internal/versioning"
)

// EventService defines event lifecycle, sharing and history operations.
type EventService interface {
	// Create commits a new event owned by actor as version 1.
	Create(ctx context.Context, actor uuid.UUID, d model.EventDraft) (EventResult, error)
	// BatchCreate commits all drafts or none.
	BatchCreate(ctx context.Context, actor uuid.UUID, ds []model.EventDraft) ([]EventResult, error)
	// Get returns a live event the actor can view.
	Get(ctx context.Context, actor, id uuid.UUID) (*model.Event, error)
	// Update applies a partial patch and records the next version.
	Update(ctx context.Context, actor, id uuid.UUID, p model.EventPatch) (EventResult, error)
	// Delete soft-deletes an event; its history stays readable.
	Delete(ctx context.Context, actor, id uuid.UUID) (model.Version, error)
	// Share grants target a role on the event.
	Share(ctx context.Context, actor, id, target uuid.UUID, role model.Role) (model.Permission, error)
	// Unshare revokes target's permission.
	Unshare(ctx context.Context, actor, id, target uuid.UUID) error
	// Permissions lists who has access to the event.
	Permissions(ctx context.Context, actor, id uuid.UUID) ([]model.Permission, error)
	// History returns a page of the version chain.
	History(ctx context.Context, actor, id uuid.UUID, page model.Page) ([]model.Version, error)
	// Version returns one version.
	Version(ctx context.Context, actor, id uuid.UUID, seq int64) (*model.Version, error)
	// Diff returns the changes between two versions.
	Diff(ctx context.Context, actor, id uuid.UUID, from, to int64) ([]model.FieldChange, error)
	// Rollback restores the state of version seq as a new version.
	Rollback(ctx context.Context, actor, id uuid.UUID, seq int64) (EventResult, error)
	// Occurrences expands every event the actor can view within [from, to).
	Occurrences(ctx context.Context, actor uuid.UUID, from, to time.Time) ([]model.Occurrence, error)
	// CheckConflicts reports overlaps of a draft with the actor's visible events.
	CheckConflicts(ctx context.Context, actor uuid.UUID, d model.EventDraft) ([]model.Conflict, error)
}

// EventResult is the outcome of a committed mutation.
type EventResult struct {
	Event     model.Event
	Version   model.Version
	Conflicts []model.Conflict // populated under ConflictWarn
}

// ConflictPolicy selects how scheduling overlaps found on create/update are surfaced.
type ConflictPolicy string

const (
	ConflictWarn   ConflictPolicy = "warn"
	ConflictReject ConflictPolicy = "reject"
)

// ParseConflictPolicy converts a flag value into a ConflictPolicy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case ConflictWarn, ConflictReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Publisher is the bus side used by the service.
type Publisher interface {
	Publish(ctx context.Context, ev model.DomainEvent)
}

// ConflictObserver counts detected conflicts. metrics.Collector implements it.
type ConflictObserver interface {
	ConflictsDetected(n int)
}

type nopConflictObserver struct{}

func (nopConflictObserver) ConflictsDetected(int) {}

const (
	DefaultMaxBatch        = 50
	DefaultMaxRange        = 366 * 24 * time.Hour
	DefaultConflictHorizon = 90 * 24 * time.Hour
)

// EventConfig tunes EventServiceImpl.
type EventConfig struct {
	MaxBatch       int
	MaxRange       time.Duration // longest Occurrences window
	ConflictPolicy ConflictPolicy
	// ConflictHorizon bounds how far a recurring event is expanded when looking for conflicts.
	ConflictHorizon time.Duration
}

// DefaultEventConfig returns production defaults.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		MaxBatch:        DefaultMaxBatch,
		MaxRange:        DefaultMaxRange,
		ConflictPolicy:  ConflictWarn,
		ConflictHorizon: DefaultConflictHorizon,
	}
}

type EventServiceImpl struct {
	events   repository.EventRepository
	guard    *permission.Guard
	versions *versioning.Store
	engine   *recurrence.Engine
	bus      Publisher
	obs      ConflictObserver
	log      *zap.Logger
	cfg      EventConfig
	now      func() time.Time
}

// EventOption customizes EventServiceImpl.
type EventOption func(*EventServiceImpl)

// WithConflictObserver attaches a conflict counter.
func WithConflictObserver(o ConflictObserver) EventOption {
	return func(s *EventServiceImpl) { s.obs = o }
}

// WithEventClock overrides time.Now, used in tests.
func WithEventClock(now func() time.Time) EventOption {
	return func(s *EventServiceImpl) { s.now = now }
}

// NewEventService constructs EventService with its collaborators.
func NewEventService(events repository.EventRepository, guard *permission.Guard, versions *versioning.Store,
	engine *recurrence.Engine, bus Publisher, log *zap.Logger, cfg EventConfig, opts ...EventOption) *EventServiceImpl {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = ConflictWarn
	}
	if cfg.ConflictHorizon <= 0 {
		cfg.ConflictHorizon = DefaultConflictHorizon
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &EventServiceImpl{
		events:   events,
		guard:    guard,
		versions: versions,
		engine:   engine,
		bus:      bus,
		obs:      nopConflictObserver{},
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates the draft and commits the event, its OWNER row and version 1 together.
func (s *EventServiceImpl) Create(ctx context.Context, actor uuid.UUID, d model.EventDraft) (EventResult, error) {
	res, err := s.BatchCreate(ctx, actor, []model.EventDraft{d})
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			// drop the batch index from single-event errors
			return EventResult{}, e
		}
		return EventResult{}, err
	}
	return res[0], nil
}

// BatchCreate validates every draft first and commits the batch in one storage call.
func (s *EventServiceImpl) BatchCreate(ctx context.Context, actor uuid.UUID, ds []model.EventDraft) ([]EventResult, error) {
	if actor == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if len(ds) == 0 {
		return []EventResult{}, nil
	}
	if len(ds) > s.cfg.MaxBatch {
		return nil, errs.Validation("events", fmt.Sprintf("batch too large (%d > %d)", len(ds), s.cfg.MaxBatch))
	}

	now := s.now()
	recs := make([]model.NewEventRecord, 0, len(ds))
	out := make([]EventResult, 0, len(ds))
	for i, d := range ds {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		ev := model.Event{
			ID:          id,
			OwnerID:     actor,
			Title:       d.Title,
			Description: d.Description,
			Location:    d.Location,
			Start:       d.Start,
			End:         d.End,
			Recurrence:  d.Recurrence.Clone(),
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := validateEvent(&ev); err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		conflicts, err := s.conflictsFor(ctx, actor, ev)
		if err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		recs = append(recs, model.NewEventRecord{
			Event:   ev,
			Owner:   model.Permission{EventID: id, UserID: actor, Role: model.RoleOwner, CreatedAt: now},
			Version: s.versions.Initial(&ev, actor),
		})
		out = append(out, EventResult{Event: ev, Conflicts: conflicts})
	}

	if err := s.events.CreateBatch(ctx, recs); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Version = recs[i].Version
		s.emit(ctx, model.EventCreated, &out[i].Event, actor, 1, nil)
	}
	return out, nil
}

// Get returns a live event. Deleted events are NotFound.
func (s *EventServiceImpl) Get(ctx context.Context, actor, id uuid.UUID) (*model.Event, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapView); err != nil {
		return nil, err
	}
	ev, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Deleted {
		return nil, errs.NotFound(id.String(), "event deleted")
	}
	return ev, nil
}

// Update merges the patch into the current state, re-validates it and records the next version.
// A patch that changes nothing records no version and emits nothing. Changes to a recurring
// series may only affect occurrences from now on.
func (s *EventServiceImpl) Update(ctx context.Context, actor, id uuid.UUID, p model.EventPatch) (EventResult, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapEdit); err != nil {
		return EventResult{}, err
	}

	var (
		before    int64
		conflicts []model.Conflict
	)
	ev, v, err := s.versions.Commit(ctx, id, versioning.Mutation{
		Kind:   model.VersionUpdated,
		Author: actor,
		Apply: func(ev *model.Event) error {
			before = ev.Version
			old := *ev
			old.Recurrence = ev.Recurrence.Clone()
			applyPatch(ev, p)
			if err := validateEvent(ev); err != nil {
				return err
			}
			if err := checkPastKept(old, *ev, s.now()); err != nil {
				return err
			}
			var err error
			conflicts, err = s.conflictsFor(ctx, actor, *ev)
			return err
		},
		Committed: func(ev *model.Event, v model.Version) {
			s.engine.Invalidate(id)
			s.emit(ctx, model.EventUpdated, ev, actor, v.Seq, nil)
		},
	})
	if err != nil {
		return EventResult{}, err
	}
	if ev.Version == before {
		return EventResult{Event: *ev, Version: v}, nil
	}
	return EventResult{Event: *ev, Version: v, Conflicts: conflicts}, nil
}

// Delete marks the event deleted and records a deleted version. Requires MANAGE.
func (s *EventServiceImpl) Delete(ctx context.Context, actor, id uuid.UUID) (model.Version, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapManage); err != nil {
		return model.Version{}, err
	}
	_, v, err := s.versions.Commit(ctx, id, versioning.Mutation{
		Kind:   model.VersionDeleted,
		Author: actor,
		Apply: func(ev *model.Event) error {
			ev.Deleted = true
			return nil
		},
		Committed: func(ev *model.Event, v model.Version) {
			s.engine.Invalidate(id)
			s.emit(ctx, model.EventDeleted, ev, actor, v.Seq, nil)
		},
	})
	if err != nil {
		return model.Version{}, err
	}
	return v, nil
}

// Share grants target a role. A first grant emits event.shared, a role change permission.changed.
func (s *EventServiceImpl) Share(ctx context.Context, actor, id, target uuid.UUID, role model.Role) (model.Permission, error) {
	ev, err := s.Get(ctx, actor, id)
	if err != nil {
		return model.Permission{}, err
	}
	p, isNew, err := s.guard.Grant(ctx, actor, id, target, role)
	if err != nil {
		return model.Permission{}, err
	}
	typ := model.PermissionChanged
	if isNew {
		typ = model.EventShared
	}
	s.emit(ctx, typ, ev, actor, 0, map[string]any{
		"role":           string(p.Role),
		"target_user_id": target.String(),
	})
	return p, nil
}

// Unshare revokes target's permission. The revoked user is still notified.
func (s *EventServiceImpl) Unshare(ctx context.Context, actor, id, target uuid.UUID) error {
	ev, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.guard.Revoke(ctx, actor, id, target); err != nil {
		return err
	}
	s.emit(ctx, model.PermissionChanged, ev, actor, 0, map[string]any{
		"role":           "",
		"target_user_id": target.String(),
	})
	return nil
}

// Permissions lists the event's permissions ordered by user ID.
func (s *EventServiceImpl) Permissions(ctx context.Context, actor, id uuid.UUID) ([]model.Permission, error) {
	return s.guard.List(ctx, actor, id)
}

// History returns versions of an event, including deleted ones.
func (s *EventServiceImpl) History(ctx context.Context, actor, id uuid.UUID, page model.Page) ([]model.Version, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapView); err != nil {
		return nil, err
	}
	return s.versions.History(ctx, id, page)
}

// Version returns version seq of an event.
func (s *EventServiceImpl) Version(ctx context.Context, actor, id uuid.UUID, seq int64) (*model.Version, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapView); err != nil {
		return nil, err
	}
	return s.versions.Get(ctx, id, seq)
}

// Diff compares two versions of an event.
func (s *EventServiceImpl) Diff(ctx context.Context, actor, id uuid.UUID, from, to int64) ([]model.FieldChange, error) {
	if err := s.guard.Authorize(ctx, actor, id, model.CapView); err != nil {
		return nil, err
	}
	return s.versions.Compare(ctx, id, from, to)
}

// Rollback restores version seq. Authorization happens in the version store.
func (s *EventServiceImpl) Rollback(ctx context.Context, actor, id uuid.UUID, seq int64) (EventResult, error) {
	if seq < 1 {
		return EventResult{}, errs.Validation("version", "must be at least 1")
	}
	ev, v, err := s.versions.Rollback(ctx, id, seq, actor, func(ev *model.Event, v model.Version) {
		s.engine.Invalidate(id)
		s.emit(ctx, model.EventUpdated, ev, actor, v.Seq, map[string]any{"rolled_back_to": seq})
	})
	if err != nil {
		return EventResult{}, err
	}
	return EventResult{Event: *ev, Version: v}, nil
}

// Occurrences returns the occurrences of all visible events within [from, to),
// ordered by start time and event ID.
func (s *EventServiceImpl) Occurrences(ctx context.Context, actor uuid.UUID, from, to time.Time) ([]model.Occurrence, error) {
	from, to = from.UTC(), to.UTC()
	if err := validateRange(from, to, s.cfg.MaxRange); err != nil {
		return nil, err
	}
	evs, err := s.events.ListVisible(ctx, actor, from, to)
	if err != nil {
		return nil, err
	}
	var out []model.Occurrence
	for _, ev := range evs {
		out = append(out, s.engine.Occurrences(ev, from, to)...)
	}
	sortOccurrences(out)
	return out, nil
}

// CheckConflicts validates a draft and returns its overlaps without committing anything.
func (s *EventServiceImpl) CheckConflicts(ctx context.Context, actor uuid.UUID, d model.EventDraft) ([]model.Conflict, error) {
	ev := model.Event{
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		Start:       d.Start,
		End:         d.End,
		Recurrence:  d.Recurrence.Clone(),
	}
	if err := validateEvent(&ev); err != nil {
		return nil, err
	}
	return s.detect(ctx, actor, ev)
}

// conflictsFor applies the configured policy to the overlaps of ev.
func (s *EventServiceImpl) conflictsFor(ctx context.Context, actor uuid.UUID, ev model.Event) ([]model.Conflict, error) {
	cs, err := s.detect(ctx, actor, ev)
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	if s.cfg.ConflictPolicy == ConflictReject {
		return nil, errs.Conflict(cs[0].Existing.EventID.String(),
			fmt.Sprintf("%d scheduling conflict(s)", len(cs)))
	}
	s.log.Info("scheduling conflicts",
		zap.String("event_id", ev.ID.String()),
		zap.String("actor_id", actor.String()),
		zap.Int("count", len(cs)),
	)
	return cs, nil
}

// detect finds overlaps of ev with the actor's other visible events. A recurring
// event is checked from now, or from its start if that is later, up to the horizon.
func (s *EventServiceImpl) detect(ctx context.Context, actor uuid.UUID, ev model.Event) ([]model.Conflict, error) {
	from, to := ev.Start, ev.End
	if ev.Recurrence != nil {
		if now := s.now(); now.After(from) {
			from = now
		}
		to = from.Add(s.cfg.ConflictHorizon)
	}
	cands := slices.Collect(s.engine.Expand(ev, from, to))
	if len(cands) == 0 {
		return nil, nil
	}
	evs, err := s.events.ListVisible(ctx, actor, from, to)
	if err != nil {
		return nil, err
	}
	var existing []model.Occurrence
	for _, other := range evs {
		if other.ID == ev.ID {
			continue
		}
		existing = append(existing, s.engine.Occurrences(other, from, to)...)
	}
	cs := s.engine.DetectConflicts(cands, existing)
	if len(cs) > 0 {
		s.obs.ConflictsDetected(len(cs))
	}
	return cs, nil
}

func (s *EventServiceImpl) emit(ctx context.Context, typ model.DomainEventType, ev *model.Event, actor uuid.UUID, seq int64, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, model.DomainEvent{
		Type:    typ,
		EventID: ev.ID,
		ActorID: actor,
		Title:   ev.Title,
		Version: seq,
		Payload: payload,
		At:      s.now(),
	})
}

func sortOccurrences(occ []model.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		if !occ[i].Start.Equal(occ[j].Start) {
			return occ[i].Start.Before(occ[j].Start)
		}
		return bytes.Compare(occ[i].EventID[:], occ[j].EventID[:]) < 0
	})
}
