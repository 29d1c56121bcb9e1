package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository/memory"
)

func TestNotificationService(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	base := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	var ns []model.Notification
	for i := 0; i < 3; i++ {
		ns = append(ns, model.Notification{
			ID:        uuid.Must(uuid.NewV4()),
			UserID:    alice,
			EventID:   uuid.Must(uuid.NewV4()),
			Type:      string(model.EventUpdated),
			Message:   "Event standup was updated",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, st.Notifications().CreateBatch(ctx, ns))

	s := NewNotificationService(st.Notifications())

	got, err := s.List(ctx, alice, false, model.Page{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, ns[2].ID, got[0].ID, "newest first")

	_, err = s.MarkRead(ctx, bob, ns[0].ID)
	require.True(t, errors.Is(err, errs.ErrNotFound), "other users' notifications are invisible")

	n, err := s.MarkRead(ctx, alice, ns[0].ID)
	require.NoError(t, err)
	require.True(t, n.IsRead)

	unread, err := s.List(ctx, alice, true, model.Page{})
	require.NoError(t, err)
	require.Len(t, unread, 2)

	changed, err := s.MarkAllRead(ctx, alice)
	require.NoError(t, err)
	require.EqualValues(t, 2, changed)

	unread, err = s.List(ctx, alice, true, model.Page{})
	require.NoError(t, err)
	require.Empty(t, unread)

	_, err = s.List(ctx, uuid.Nil, false, model.Page{})
	require.True(t, errors.Is(err, errs.ErrUnauthorized))
}
