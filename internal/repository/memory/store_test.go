package memory

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

var (
	_ repository.UserRepository         = (*UserRepo)(nil)
	_ repository.EventRepository        = (*EventRepo)(nil)
	_ repository.VersionRepository      = (*EventRepo)(nil)
	_ repository.PermissionRepository   = (*PermissionRepo)(nil)
	_ repository.NotificationRepository = (*NotificationRepo)(nil)
)

func mkUser(t *testing.T, s *Store, name string) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, s.Users().Create(context.Background(), &model.User{ID: id, Username: name}))
	return id
}

func mkRecord(owner uuid.UUID, start time.Time) model.NewEventRecord {
	ev := model.Event{ID: uuid.Must(uuid.NewV4()), OwnerID: owner, Title: "t", Start: start, End: start.Add(time.Hour), Version: 1}
	return model.NewEventRecord{
		Event:   ev,
		Owner:   model.Permission{EventID: ev.ID, UserID: owner, Role: model.RoleOwner},
		Version: model.Version{EventID: ev.ID, Seq: 1, Kind: model.VersionCreated, Snapshot: ev.Snapshot(), AuthorID: owner},
	}
}

func TestUserRepo_Duplicate(t *testing.T) {
	s := New()
	mkUser(t, s, "alice")
	err := s.Users().Create(context.Background(), &model.User{ID: uuid.Must(uuid.NewV4()), Username: "alice"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	_, err = s.Users().GetByUsername(context.Background(), "nobody")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEventRepo_CreateBatch_AllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := mkUser(t, s, "alice")
	now := time.Now().UTC()

	good := mkRecord(alice, now)
	bad := mkRecord(uuid.Must(uuid.NewV4()), now)
	err := s.Events().CreateBatch(ctx, []model.NewEventRecord{good, bad})
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.Events().Get(ctx, good.Event.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Events().CreateBatch(ctx, []model.NewEventRecord{good}))
	p, err := s.Permissions().Get(ctx, good.Event.ID, alice)
	require.NoError(t, err)
	require.Equal(t, model.RoleOwner, p.Role)
}

func TestEventRepo_CommitVersion_Sequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := mkUser(t, s, "alice")
	rec := mkRecord(alice, time.Now().UTC())
	require.NoError(t, s.Events().CreateBatch(ctx, []model.NewEventRecord{rec}))

	ev := rec.Event
	ev.Title = "renamed"
	require.NoError(t, s.Events().CommitVersion(ctx, &ev, model.Version{EventID: ev.ID, Seq: 2, Kind: model.VersionUpdated}))
	// same seq again loses
	require.ErrorIs(t, s.Events().CommitVersion(ctx, &ev, model.Version{EventID: ev.ID, Seq: 2}), errs.ErrVersionConflict)

	got, err := s.Events().Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, int64(2), got.Version)

	latest, err := s.Events().Latest(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.Seq)

	page, err := s.Events().ListVersions(ctx, ev.ID, model.Page{Limit: 1, Desc: true})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(2), page[0].Seq)

	page, err = s.Events().ListVersions(ctx, ev.ID, model.Page{Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(2), page[0].Seq)

	_, err = s.Events().GetVersion(ctx, ev.ID, 3)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEventRepo_ListVisible(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	in := mkRecord(alice, base)
	out := mkRecord(alice, base.AddDate(0, 1, 0))
	recurring := mkRecord(alice, base.AddDate(-1, 0, 0))
	recurring.Event.Recurrence = &model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 1}
	require.NoError(t, s.Events().CreateBatch(ctx, []model.NewEventRecord{in, out, recurring}))

	evs, err := s.Events().ListVisible(ctx, alice, base.Add(-time.Hour), base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, recurring.Event.ID, evs[0].ID)
	require.Equal(t, in.Event.ID, evs[1].ID)

	evs, err = s.Events().ListVisible(ctx, bob, base.Add(-time.Hour), base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestPermissionRepo_OwnerProtectedAndTransfer(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	rec := mkRecord(alice, time.Now().UTC())
	require.NoError(t, s.Events().CreateBatch(ctx, []model.NewEventRecord{rec}))
	ev := rec.Event.ID
	perms := s.Permissions()

	require.ErrorIs(t, perms.Put(ctx, model.Permission{EventID: ev, UserID: alice, Role: model.RoleViewer}), errs.ErrInvalidOperation)
	require.ErrorIs(t, perms.Delete(ctx, ev, alice), errs.ErrInvalidOperation)
	require.ErrorIs(t, perms.Put(ctx, model.Permission{EventID: ev, UserID: uuid.Must(uuid.NewV4()), Role: model.RoleViewer}), errs.ErrNotFound)

	require.NoError(t, perms.Put(ctx, model.Permission{EventID: ev, UserID: bob, Role: model.RoleViewer}))
	require.NoError(t, perms.TransferOwnership(ctx, ev, alice, bob))
	require.ErrorIs(t, perms.TransferOwnership(ctx, ev, alice, bob), errs.ErrInvalidOperation)

	list, err := perms.List(ctx, ev)
	require.NoError(t, err)
	owners := 0
	for _, p := range list {
		if p.Role == model.RoleOwner {
			owners++
			require.Equal(t, bob, p.UserID)
		}
	}
	require.Equal(t, 1, owners)

	p, err := perms.Get(ctx, ev, alice)
	require.NoError(t, err)
	require.Equal(t, model.RoleEditor, p.Role)

	got, err := s.Events().Get(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, bob, got.OwnerID)
}

func TestNotificationRepo_Inbox(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())
	r := s.Notifications()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.Must(uuid.NewV4())
		ids = append(ids, id)
		require.NoError(t, r.CreateBatch(ctx, []model.Notification{{ID: id, UserID: u, Message: "m"}}))
	}

	list, err := r.List(ctx, u, false, model.Page{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ids[2], list[0].ID)

	_, err = r.MarkRead(ctx, u, ids[2])
	require.NoError(t, err)
	list, err = r.List(ctx, u, true, model.Page{Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, ids[0], list[0].ID)

	n, err := r.MarkAllRead(ctx, u)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = r.MarkRead(ctx, uuid.Must(uuid.NewV4()), ids[0])
	require.ErrorIs(t, err, errs.ErrNotFound)
}
