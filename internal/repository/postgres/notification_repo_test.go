package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var notificationCols = []string{"id", "user_id", "event_id", "type", "message", "payload", "is_read", "created_at"}

func TestNotificationRepo_CreateBatch(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewNotificationRepo(db)
	now := time.Now()
	ev := uuid.Must(uuid.NewV4())
	ns := []model.Notification{
		{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), EventID: ev, Type: "event.updated", Message: "m", CreatedAt: now},
		{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), EventID: ev, Type: "event.updated", Message: "m", CreatedAt: now},
	}

	mock.ExpectBegin()
	for _, n := range ns {
		mock.ExpectExec(`INSERT INTO notifications`).
			WithArgs(n.ID, n.UserID, ev, "event.updated", "m", pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
	require.NoError(t, r.CreateBatch(context.Background(), ns))

	// empty batch is a no-op
	require.NoError(t, r.CreateBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewNotificationRepo(db)
	u, ev := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM notifications WHERE user_id=\$1`).
		WithArgs(u, true, model.DefaultPageLimit, 0).
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow(uuid.Must(uuid.NewV4()), u, ev, "event.shared", "shared", []byte(`{"role":"EDITOR"}`), false, time.Now()))

	ns, err := r.List(context.Background(), u, true, model.Page{})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.Equal(t, "EDITOR", ns[0].Payload["role"])
}

func TestNotificationRepo_MarkRead(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewNotificationRepo(db)
	u, id := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`UPDATE notifications SET is_read=true WHERE id=\$1 AND user_id=\$2 RETURNING`).
		WithArgs(id, u).
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow(id, u, uuid.Must(uuid.NewV4()), "event.updated", "m", []byte(`{}`), true, time.Now()))
	n, err := r.MarkRead(context.Background(), u, id)
	require.NoError(t, err)
	require.True(t, n.IsRead)

	mock.ExpectQuery(`UPDATE notifications SET is_read=true`).
		WithArgs(id, u).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.MarkRead(context.Background(), u, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNotificationRepo_MarkAllRead(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewNotificationRepo(db)
	u := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE notifications SET is_read=true WHERE user_id=\$1 AND NOT is_read`).
		WithArgs(u).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.MarkAllRead(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
