package repository

import (
	"context"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// NotificationRepository persists notifications. Rows are never deleted here.
type NotificationRepository interface {
	// CreateBatch inserts notifications in one transaction.
	CreateBatch(ctx context.Context, ns []model.Notification) error
	// List returns a user's notifications newest first.
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page model.Page) ([]model.Notification, error)
	// MarkRead flips is_read for one notification owned by userID.
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error)
	// MarkAllRead flips is_read for all of a user's notifications and returns how many changed.
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}
