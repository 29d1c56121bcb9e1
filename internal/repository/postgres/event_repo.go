package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// EventRepo implements EventRepository and VersionRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, owner_id, title, description, location, start_time, end_time, recurrence, current_version, deleted, created_at, updated_at`

// CreateBatch inserts events with their owner permission and first version in one transaction.
func (r *EventRepo) CreateBatch(ctx context.Context, recs []model.NewEventRecord) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const insEvent = `
INSERT INTO events (id, owner_id, title, description, location, start_time, end_time, recurrence, current_version, deleted, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10,$10)`
	const insPerm = `INSERT INTO event_permissions (event_id, user_id, role, created_at) VALUES ($1,$2,$3,$4)`

	for i := range recs {
		ev := &recs[i].Event
		rec, e := jsonOrNil(ev.Recurrence)
		if e != nil {
			return fmt.Errorf("event[%d]: encode recurrence: %w", i, e)
		}
		if _, err = tx.Exec(ctx, insEvent, ev.ID, ev.OwnerID, ev.Title, ev.Description, ev.Location,
			ev.Start, ev.End, rec, ev.Version, ev.CreatedAt); err != nil {
			if isForeignKeyViolation(err) {
				err = errs.NotFound(ev.OwnerID.String(), "owner does not exist")
			}
			return fmt.Errorf("event[%d]: %w", i, err)
		}
		p := recs[i].Owner
		if _, err = tx.Exec(ctx, insPerm, p.EventID, p.UserID, string(p.Role), p.CreatedAt); err != nil {
			return fmt.Errorf("event[%d]: owner permission: %w", i, err)
		}
		if err = insertVersion(ctx, tx, recs[i].Version); err != nil {
			return fmt.Errorf("event[%d]: %w", i, err)
		}
	}
	return nil
}

// Get returns a single event by id.
func (r *EventRepo) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE id=$1`
	ev, err := scanEvent(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(id.String(), "event not found")
		}
		return nil, err
	}
	return ev, nil
}

// CommitVersion updates the event row and appends a version with an optimistic sequence check.
func (r *EventRepo) CommitVersion(ctx context.Context, ev *model.Event, v model.Version) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const sel = `SELECT current_version FROM events WHERE id=$1 FOR UPDATE`
	const upd = `
UPDATE events SET title=$2, description=$3, location=$4, start_time=$5, end_time=$6,
  recurrence=$7, deleted=$8, current_version=$9, updated_at=$10
WHERE id=$1`

	var cur int64
	if err = tx.QueryRow(ctx, sel, ev.ID).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFound(ev.ID.String(), "event not found")
		}
		return err
	}
	if cur != v.Seq-1 {
		return errs.ErrVersionConflict
	}
	rec, err := jsonOrNil(ev.Recurrence)
	if err != nil {
		return fmt.Errorf("encode recurrence: %w", err)
	}
	if _, err = tx.Exec(ctx, upd, ev.ID, ev.Title, ev.Description, ev.Location, ev.Start, ev.End,
		rec, ev.Deleted, v.Seq, ev.UpdatedAt); err != nil {
		return err
	}
	return insertVersion(ctx, tx, v)
}

// ListVisible returns live events the user holds a permission on, recurring or overlapping [from, to).
func (r *EventRepo) ListVisible(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.Event, error) {
	const q = `
SELECT e.id, e.owner_id, e.title, e.description, e.location, e.start_time, e.end_time, e.recurrence, e.current_version, e.deleted, e.created_at, e.updated_at
FROM events e JOIN event_permissions p ON p.event_id = e.id
WHERE p.user_id=$1 AND NOT e.deleted AND (e.recurrence IS NOT NULL OR (e.start_time < $3 AND e.end_time > $2))
ORDER BY e.start_time ASC, e.id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// Latest returns the newest version of an event.
func (r *EventRepo) Latest(ctx context.Context, eventID uuid.UUID) (*model.Version, error) {
	const q = `
SELECT event_id, seq, kind, snapshot, diff, author_id, rolled_back_to, created_at
FROM event_versions WHERE event_id=$1 ORDER BY seq DESC LIMIT 1`
	v, err := scanVersion(r.db.Pool.QueryRow(ctx, q, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(eventID.String(), "no versions")
		}
		return nil, err
	}
	return v, nil
}

// GetVersion returns version seq of an event.
func (r *EventRepo) GetVersion(ctx context.Context, eventID uuid.UUID, seq int64) (*model.Version, error) {
	const q = `
SELECT event_id, seq, kind, snapshot, diff, author_id, rolled_back_to, created_at
FROM event_versions WHERE event_id=$1 AND seq=$2`
	v, err := scanVersion(r.db.Pool.QueryRow(ctx, q, eventID, seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(fmt.Sprintf("%s@%d", eventID, seq), "version not found")
		}
		return nil, err
	}
	return v, nil
}

// ListVersions returns a page of versions ordered by seq.
func (r *EventRepo) ListVersions(ctx context.Context, eventID uuid.UUID, page model.Page) ([]model.Version, error) {
	const asc = `
SELECT event_id, seq, kind, snapshot, diff, author_id, rolled_back_to, created_at
FROM event_versions WHERE event_id=$1 ORDER BY seq ASC LIMIT $2 OFFSET $3`
	const desc = `
SELECT event_id, seq, kind, snapshot, diff, author_id, rolled_back_to, created_at
FROM event_versions WHERE event_id=$1 ORDER BY seq DESC LIMIT $2 OFFSET $3`

	page = page.Normalize()
	q := asc
	if page.Desc {
		q = desc
	}
	rows, err := r.db.Pool.Query(ctx, q, eventID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func insertVersion(ctx context.Context, tx pgx.Tx, v model.Version) error {
	const ins = `
INSERT INTO event_versions (event_id, seq, kind, snapshot, diff, author_id, rolled_back_to, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	snap, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	diff := v.Diff
	if diff == nil {
		diff = []model.FieldChange{}
	}
	dj, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	_, err = tx.Exec(ctx, ins, v.EventID, v.Seq, string(v.Kind), snap, dj, v.AuthorID, v.RolledBackTo, v.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrVersionConflict
	}
	return err
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		ev  model.Event
		rec []byte
	)
	if err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.Description, &ev.Location, &ev.Start, &ev.End,
		&rec, &ev.Version, &ev.Deleted, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	if len(rec) > 0 {
		ev.Recurrence = &model.RecurrenceRule{}
		if err := json.Unmarshal(rec, ev.Recurrence); err != nil {
			return nil, fmt.Errorf("decode recurrence: %w", err)
		}
	}
	return &ev, nil
}

func scanVersion(row pgx.Row) (*model.Version, error) {
	var (
		v          model.Version
		kind       string
		snap, diff []byte
	)
	if err := row.Scan(&v.EventID, &v.Seq, &kind, &snap, &diff, &v.AuthorID, &v.RolledBackTo, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Kind = model.VersionKind(kind)
	if err := json.Unmarshal(snap, &v.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(diff) > 0 {
		if err := json.Unmarshal(diff, &v.Diff); err != nil {
			return nil, fmt.Errorf("decode diff: %w", err)
		}
	}
	return &v, nil
}
