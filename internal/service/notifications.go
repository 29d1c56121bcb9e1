package service

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
)

// NotificationService exposes a user's persisted notifications.
type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page model.Page) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type NotificationServiceImpl struct {
	repo repository.NotificationRepository
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(repo repository.NotificationRepository) *NotificationServiceImpl {
	return &NotificationServiceImpl{repo: repo}
}

// List returns notifications newest first.
func (s *NotificationServiceImpl) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page model.Page) ([]model.Notification, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	return s.repo.List(ctx, userID, unreadOnly, page.Normalize())
}

// MarkRead marks one of the user's notifications read. Others' notifications are NotFound.
func (s *NotificationServiceImpl) MarkRead(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if id == uuid.Nil {
		return nil, errs.Validation("id", "required")
	}
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead marks all of the user's notifications read.
func (s *NotificationServiceImpl) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, errs.ErrUnauthorized
	}
	return s.repo.MarkAllRead(ctx, userID)
}
