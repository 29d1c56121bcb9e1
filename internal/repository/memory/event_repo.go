package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EventRepo is the in-memory EventRepository and VersionRepository.
type EventRepo struct{ s *Store }

// CreateBatch validates every record first and only then writes, so a failure leaves no trace.
func (r *EventRepo) CreateBatch(_ context.Context, recs []model.NewEventRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(recs))
	for i, rec := range recs {
		if _, ok := r.s.users[rec.Event.OwnerID]; !ok {
			return fmt.Errorf("event[%d]: %w", i, errs.NotFound(rec.Event.OwnerID.String(), "owner does not exist"))
		}
		if _, ok := r.s.events[rec.Event.ID]; ok {
			return fmt.Errorf("event[%d]: %w", i, errs.ErrAlreadyExists)
		}
		if _, ok := seen[rec.Event.ID]; ok {
			return fmt.Errorf("event[%d]: %w", i, errs.ErrAlreadyExists)
		}
		seen[rec.Event.ID] = struct{}{}
	}
	for _, rec := range recs {
		r.s.events[rec.Event.ID] = cloneEvent(rec.Event)
		r.s.perms[permKey{rec.Event.ID, rec.Owner.UserID}] = rec.Owner
		r.s.versions[rec.Event.ID] = []model.Version{rec.Version}
	}
	return nil
}

// Get returns an event by ID, including soft-deleted ones.
func (r *EventRepo) Get(_ context.Context, id uuid.UUID) (*model.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ev, ok := r.s.events[id]
	if !ok {
		return nil, errs.NotFound(id.String(), "event not found")
	}
	ev = cloneEvent(ev)
	return &ev, nil
}

// CommitVersion writes ev and appends v if the stored version is v.Seq-1.
func (r *EventRepo) CommitVersion(_ context.Context, ev *model.Event, v model.Version) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.events[ev.ID]
	if !ok {
		return errs.NotFound(ev.ID.String(), "event not found")
	}
	if cur.Version != v.Seq-1 {
		return errs.ErrVersionConflict
	}
	next := cloneEvent(*ev)
	next.OwnerID = cur.OwnerID
	next.CreatedAt = cur.CreatedAt
	next.Version = v.Seq
	r.s.events[ev.ID] = next
	r.s.versions[ev.ID] = append(r.s.versions[ev.ID], v)
	return nil
}

// ListVisible returns live events the user holds a permission on that are recurring or overlap [from, to).
func (r *EventRepo) ListVisible(_ context.Context, userID uuid.UUID, from, to time.Time) ([]model.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Event
	for k := range r.s.perms {
		if k.user != userID {
			continue
		}
		ev, ok := r.s.events[k.event]
		if !ok || ev.Deleted {
			continue
		}
		if ev.Recurrence == nil && !(ev.Start.Before(to) && ev.End.After(from)) {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Latest returns the newest version of an event.
func (r *EventRepo) Latest(_ context.Context, eventID uuid.UUID) (*model.Version, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	vs := r.s.versions[eventID]
	if len(vs) == 0 {
		return nil, errs.NotFound(eventID.String(), "no versions")
	}
	v := vs[len(vs)-1]
	return &v, nil
}

// GetVersion returns version seq of an event.
func (r *EventRepo) GetVersion(_ context.Context, eventID uuid.UUID, seq int64) (*model.Version, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	vs := r.s.versions[eventID]
	if seq < 1 || seq > int64(len(vs)) {
		return nil, errs.NotFound(fmt.Sprintf("%s@%d", eventID, seq), "version not found")
	}
	v := vs[seq-1]
	return &v, nil
}

// ListVersions returns a page of versions ordered by seq.
func (r *EventRepo) ListVersions(_ context.Context, eventID uuid.UUID, page model.Page) ([]model.Version, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	page = page.Normalize()
	vs := r.s.versions[eventID]
	n := len(vs)
	var out []model.Version
	for i := page.Offset; i < n && len(out) < page.Limit; i++ {
		idx := i
		if page.Desc {
			idx = n - 1 - i
		}
		out = append(out, vs[idx])
	}
	return out, nil
}
