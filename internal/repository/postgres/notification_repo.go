package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// NotificationRepo implements NotificationRepository using PostgreSQL.
type NotificationRepo struct{ db *DB }

// NewNotificationRepo constructs a notification repository.
func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

// CreateBatch inserts notifications in one transaction.
func (r *NotificationRepo) CreateBatch(ctx context.Context, ns []model.Notification) (err error) {
	if len(ns) == 0 {
		return nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const ins = `
INSERT INTO notifications (id, user_id, event_id, type, message, payload, is_read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,false,$7)`
	for i, n := range ns {
		payload, e := json.Marshal(n.Payload)
		if e != nil {
			return fmt.Errorf("notification[%d]: encode payload: %w", i, e)
		}
		if _, err = tx.Exec(ctx, ins, n.ID, n.UserID, n.EventID, n.Type, n.Message, payload, n.CreatedAt); err != nil {
			return fmt.Errorf("notification[%d]: %w", i, err)
		}
	}
	return nil
}

// List returns notifications of a user newest first.
func (r *NotificationRepo) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page model.Page) ([]model.Notification, error) {
	const q = `
SELECT id, user_id, event_id, type, message, payload, is_read, created_at
FROM notifications WHERE user_id=$1 AND ($2::bool = false OR NOT is_read)
ORDER BY created_at DESC, id ASC LIMIT $3 OFFSET $4`
	page = page.Normalize()
	rows, err := r.db.Pool.Query(ctx, q, userID, unreadOnly, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkRead marks one notification as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	const q = `
UPDATE notifications SET is_read=true WHERE id=$1 AND user_id=$2
RETURNING id, user_id, event_id, type, message, payload, is_read, created_at`
	n, err := scanNotification(r.db.Pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(id.String(), "notification not found")
		}
		return nil, err
	}
	return n, nil
}

// MarkAllRead marks every unread notification of a user as read.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `UPDATE notifications SET is_read=true WHERE user_id=$1 AND NOT is_read`
	tag, err := r.db.Pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var (
		n       model.Notification
		payload []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.EventID, &n.Type, &n.Message, &payload, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &n, nil
}
