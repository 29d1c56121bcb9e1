package memory

import (
	"context"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// NotificationRepo is the in-memory NotificationRepository.
type NotificationRepo struct{ s *Store }

// CreateBatch appends notifications to each recipient's inbox.
func (r *NotificationRepo) CreateBatch(_ context.Context, ns []model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range ns {
		r.s.notifications[n.UserID] = append(r.s.notifications[n.UserID], n)
	}
	return nil
}

// List returns a user's notifications newest first.
func (r *NotificationRepo) List(_ context.Context, userID uuid.UUID, unreadOnly bool, page model.Page) ([]model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	page = page.Normalize()
	inbox := r.s.notifications[userID]
	var out []model.Notification
	skipped := 0
	for i := len(inbox) - 1; i >= 0 && len(out) < page.Limit; i-- {
		n := inbox[i]
		if unreadOnly && n.IsRead {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead flips is_read for one notification owned by userID.
func (r *NotificationRepo) MarkRead(_ context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inbox := r.s.notifications[userID]
	for i := range inbox {
		if inbox[i].ID == id {
			inbox[i].IsRead = true
			n := inbox[i]
			return &n, nil
		}
	}
	return nil, errs.NotFound(id.String(), "notification not found")
}

// MarkAllRead flips is_read for all unread notifications of a user.
func (r *NotificationRepo) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	inbox := r.s.notifications[userID]
	for i := range inbox {
		if !inbox[i].IsRead {
			inbox[i].IsRead = true
			n++
		}
	}
	return n, nil
}
