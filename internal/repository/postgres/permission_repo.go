package postgres

import (
	"context"
	"errors"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// PermissionRepo implements PermissionRepository using PostgreSQL.
type PermissionRepo struct{ db *DB }

// NewPermissionRepo constructs a permission repository.
func NewPermissionRepo(db *DB) *PermissionRepo { return &PermissionRepo{db: db} }

// Get returns the permission of a user on an event.
func (r *PermissionRepo) Get(ctx context.Context, eventID, userID uuid.UUID) (*model.Permission, error) {
	const q = `SELECT event_id, user_id, role, created_at FROM event_permissions WHERE event_id=$1 AND user_id=$2`
	p, err := scanPermission(r.db.Pool.QueryRow(ctx, q, eventID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(userID.String(), "no permission")
		}
		return nil, err
	}
	return p, nil
}

// List returns all permissions of an event.
func (r *PermissionRepo) List(ctx context.Context, eventID uuid.UUID) ([]model.Permission, error) {
	const q = `SELECT event_id, user_id, role, created_at FROM event_permissions WHERE event_id=$1 ORDER BY user_id ASC`
	rows, err := r.db.Pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Put inserts or updates a non-owner permission. The owner row is never overwritten.
func (r *PermissionRepo) Put(ctx context.Context, p model.Permission) error {
	if p.Role == model.RoleOwner {
		return errs.InvalidOperation(p.UserID.String(), "owner is assigned by transfer only")
	}
	const q = `
INSERT INTO event_permissions (event_id, user_id, role, created_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (event_id, user_id) DO UPDATE SET role=EXCLUDED.role
WHERE event_permissions.role <> 'OWNER'`
	tag, err := r.db.Pool.Exec(ctx, q, p.EventID, p.UserID, string(p.Role), p.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return errs.NotFound(p.EventID.String(), "event or user does not exist")
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.InvalidOperation(p.UserID.String(), "cannot change the owner's role")
	}
	return nil
}

// Delete removes a non-owner permission.
func (r *PermissionRepo) Delete(ctx context.Context, eventID, userID uuid.UUID) error {
	const del = `DELETE FROM event_permissions WHERE event_id=$1 AND user_id=$2 AND role <> 'OWNER'`
	tag, err := r.db.Pool.Exec(ctx, del, eventID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, eventID, userID); err != nil {
		return err
	}
	return errs.InvalidOperation(userID.String(), "cannot remove the owner")
}

// TransferOwnership moves the OWNER role from one user to another in one transaction.
// The former owner keeps EDITOR.
func (r *PermissionRepo) TransferOwnership(ctx context.Context, eventID, from, to uuid.UUID) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const sel = `SELECT owner_id FROM events WHERE id=$1 FOR UPDATE`
	const demote = `UPDATE event_permissions SET role='EDITOR' WHERE event_id=$1 AND user_id=$2`
	const promote = `
INSERT INTO event_permissions (event_id, user_id, role) VALUES ($1,$2,'OWNER')
ON CONFLICT (event_id, user_id) DO UPDATE SET role='OWNER'`
	const upd = `UPDATE events SET owner_id=$2, updated_at=now() WHERE id=$1`

	var owner uuid.UUID
	if err = tx.QueryRow(ctx, sel, eventID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFound(eventID.String(), "event not found")
		}
		return err
	}
	if owner != from {
		return errs.InvalidOperation(from.String(), "not the current owner")
	}
	// ux_event_permissions_owner allows one OWNER row; the swap is invisible outside the tx.
	if _, err = tx.Exec(ctx, demote, eventID, from); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, promote, eventID, to); err != nil {
		if isForeignKeyViolation(err) {
			err = errs.NotFound(to.String(), "user does not exist")
		}
		return err
	}
	_, err = tx.Exec(ctx, upd, eventID, to)
	return err
}

func scanPermission(row pgx.Row) (*model.Permission, error) {
	var (
		p    model.Permission
		role string
	)
	if err := row.Scan(&p.EventID, &p.UserID, &role, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return &p, nil
}
