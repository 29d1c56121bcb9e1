package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/teamcal/internal/auth"
	"github.com/and161185/teamcal/internal/bus"
	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/notify"
	"github.com/and161185/teamcal/internal/permission"
	"github.com/and161185/teamcal/internal/recurrence"
	"github.com/and161185/teamcal/internal/repository/memory"
	"github.com/and161185/teamcal/internal/service"
	"github.com/and161185/teamcal/internal/versioning"
)

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server, p auth.Provider) *grpc.ClientConn {
	t.Helper()
	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), AuthUnary(p)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log), AuthStream(p)),
	)
	RegisterSchedulerServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

// newTestClient runs the whole stack over the in-memory store.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.New()
	guard := permission.NewGuard(st.Permissions())
	versions := versioning.NewStore(st.Events(), st.Events(), guard, versioning.DefaultConfig())
	engine := recurrence.NewEngine(recurrence.DefaultConfig(), recurrence.NewCache(recurrence.DefaultCacheConfig))
	hub := notify.NewHub(st.Notifications(), guard, notify.DefaultConfig(), log)
	t.Cleanup(hub.Close)
	b := bus.New(log)
	b.Subscribe("notify", hub.Handle)

	jwtp := auth.NewJWT([]byte("test-secret"), time.Hour)
	srv := New(
		service.NewAuthService(st.Users(), jwtp, limiter.NewMemory(limiter.DefaultConfig())),
		service.NewEventService(st.Events(), guard, versions, engine, b, log, service.DefaultEventConfig()),
		service.NewNotificationService(st.Notifications()),
		hub, log,
	)
	return NewClient(startBufGRPC(t, srv, jwtp))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func field(s *structpb.Struct, path ...string) *structpb.Value {
	v := structpb.NewStructValue(s)
	for _, p := range path {
		v = v.GetStructValue().GetFields()[p]
	}
	return v
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

type session struct {
	id  string
	ctx context.Context
}

func signup(t *testing.T, cl *Client, name string) session {
	t.Helper()
	ctx := context.Background()
	creds := mustStruct(t, map[string]any{"username": name, "password": "correct horse"})
	if _, err := cl.Call(ctx, MethodRegister, creds); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	resp, err := cl.Call(ctx, MethodLogin, creds)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	tok := field(resp, "access_token").GetStringValue()
	if tok == "" {
		t.Fatalf("empty token: %v", resp)
	}
	return session{
		id:  field(resp, "user_id").GetStringValue(),
		ctx: metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok),
	}
}

func TestServer_E2E_EventLifecycle(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	alice, bob := signup(t, cl, "alice"), signup(t, cl, "bob")

	created, err := cl.Call(alice.ctx, MethodCreateEvent, mustStruct(t, map[string]any{
		"title": "Planning",
		"start": "2024-03-20T10:00:00Z",
		"end":   "2024-03-20T11:00:00Z",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := field(created, "event", "id").GetStringValue()
	if field(created, "version", "seq").GetNumberValue() != 1 || field(created, "event", "owner_id").GetStringValue() != alice.id {
		t.Fatalf("bad create reply: %v", created)
	}

	get := mustStruct(t, map[string]any{"event_id": id})
	_, err = cl.Call(bob.ctx, MethodGetEvent, get)
	wantCode(t, err, codes.PermissionDenied)

	if _, err := cl.Call(alice.ctx, MethodShareEvent, mustStruct(t, map[string]any{
		"event_id": id, "user_id": bob.id, "role": "editor",
	})); err != nil {
		t.Fatalf("share: %v", err)
	}

	updated, err := cl.Call(bob.ctx, MethodUpdateEvent, mustStruct(t, map[string]any{
		"event_id": id,
		"patch":    map[string]any{"title": "Planning v2", "location": "Room 4"},
	}))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if field(updated, "version", "seq").GetNumberValue() != 2 ||
		field(updated, "version", "changelog").GetStringValue() != "title, location changed" {
		t.Fatalf("bad update reply: %v", updated)
	}

	hist, err := cl.Call(alice.ctx, MethodHistory, mustStruct(t, map[string]any{"event_id": id, "order": "desc"}))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	vs := field(hist, "versions").GetListValue().GetValues()
	if len(vs) != 2 || vs[0].GetStructValue().GetFields()["seq"].GetNumberValue() != 2 {
		t.Fatalf("bad history: %v", hist)
	}

	diff, err := cl.Call(alice.ctx, MethodDiff, mustStruct(t, map[string]any{"event_id": id, "from": 1, "to": 2}))
	if err != nil || len(field(diff, "changes").GetListValue().GetValues()) != 2 {
		t.Fatalf("diff: %v %v", diff, err)
	}

	rolled, err := cl.Call(bob.ctx, MethodRollback, mustStruct(t, map[string]any{"event_id": id, "seq": 1}))
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if field(rolled, "event", "title").GetStringValue() != "Planning" ||
		field(rolled, "version", "rolled_back_to").GetNumberValue() != 1 {
		t.Fatalf("bad rollback reply: %v", rolled)
	}

	_, err = cl.Call(bob.ctx, MethodDeleteEvent, get)
	wantCode(t, err, codes.PermissionDenied)
	if _, err := cl.Call(alice.ctx, MethodDeleteEvent, get); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = cl.Call(alice.ctx, MethodGetEvent, get)
	wantCode(t, err, codes.NotFound)
}

func TestServer_E2E_BatchAndOccurrences(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	alice := signup(t, cl, "alice")

	if _, err := cl.Call(alice.ctx, MethodCreateEvent, mustStruct(t, map[string]any{
		"title": "Review", "start": "2024-03-19T09:00:00Z", "end": "2024-03-19T10:00:00Z",
	})); err != nil {
		t.Fatalf("create: %v", err)
	}
	batch, err := cl.Call(alice.ctx, MethodCreateEvents, mustStruct(t, map[string]any{"events": []any{
		map[string]any{"title": "Standup", "start": "2024-03-18T09:00:00Z", "end": "2024-03-18T09:15:00Z",
			"recurrence": map[string]any{"frequency": "daily", "interval": 1, "count": 5}},
		map[string]any{"title": "Retro", "start": "2024-03-22T15:00:00Z", "end": "2024-03-22T16:00:00Z"},
	}}))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	results := field(batch, "results").GetListValue().GetValues()
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %v", batch)
	}
	if cs := results[0].GetStructValue().GetFields()["conflicts"].GetListValue().GetValues(); len(cs) != 1 {
		t.Fatalf("standup overlaps the review once, got %v", results[0])
	}

	occ, err := cl.Call(alice.ctx, MethodOccurrences, mustStruct(t, map[string]any{
		"from": "2024-03-18T00:00:00Z", "to": "2024-03-25T00:00:00Z",
	}))
	if err != nil {
		t.Fatalf("occurrences: %v", err)
	}
	if n := len(field(occ, "occurrences").GetListValue().GetValues()); n != 7 {
		t.Fatalf("want 7 occurrences, got %d", n)
	}

	_, err = cl.Call(alice.ctx, MethodCreateEvents, mustStruct(t, map[string]any{"events": []any{
		map[string]any{"title": "ok", "start": "2024-03-20T09:00:00Z", "end": "2024-03-20T10:00:00Z"},
		map[string]any{"title": "bad", "start": "2024-03-20T09:00:00Z"},
	}}))
	wantCode(t, err, codes.InvalidArgument)
}

func TestServer_E2E_WatchAndNotifications(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	alice, bob := signup(t, cl, "alice"), signup(t, cl, "bob")

	ctx, cancel := context.WithTimeout(bob.ctx, 5*time.Second)
	defer cancel()
	stream, err := cl.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	hello, err := stream.Recv()
	if err != nil || field(hello, "type").GetStringValue() != "subscribed" {
		t.Fatalf("want subscribed frame, got %v %v", hello, err)
	}

	created, err := cl.Call(alice.ctx, MethodCreateEvent, mustStruct(t, map[string]any{
		"title": "Sync", "start": "2024-03-20T10:00:00Z", "end": "2024-03-20T11:00:00Z",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := field(created, "event", "id").GetStringValue()
	if _, err := cl.Call(alice.ctx, MethodShareEvent, mustStruct(t, map[string]any{
		"event_id": id, "user_id": bob.id, "role": "VIEWER",
	})); err != nil {
		t.Fatalf("share: %v", err)
	}

	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if field(msg, "type").GetStringValue() != "notification" ||
		field(msg, "data", "type").GetStringValue() != "event.shared" ||
		field(msg, "data", "event_id").GetStringValue() != id {
		t.Fatalf("bad live frame: %v", msg)
	}

	list, err := cl.Call(bob.ctx, MethodListNotifications, mustStruct(t, map[string]any{"unread_only": true}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ns := field(list, "notifications").GetListValue().GetValues()
	if len(ns) != 1 {
		t.Fatalf("want 1 notification, got %v", list)
	}
	nid := ns[0].GetStructValue().GetFields()["id"].GetStringValue()
	read, err := cl.Call(bob.ctx, MethodMarkNotificationRead, mustStruct(t, map[string]any{"notification_id": nid}))
	if err != nil || !field(read, "notification", "is_read").GetBoolValue() {
		t.Fatalf("mark read: %v %v", read, err)
	}
	all, err := cl.Call(bob.ctx, MethodMarkAllNotificationsRead, nil)
	if err != nil || field(all, "updated").GetNumberValue() != 0 {
		t.Fatalf("mark all: %v %v", all, err)
	}
}

func TestServer_E2E_AuthErrors(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	ctx := context.Background()

	_, err := cl.Call(ctx, MethodGetEvent, mustStruct(t, map[string]any{"event_id": "x"}))
	wantCode(t, err, codes.Unauthenticated)

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	_, err = cl.Call(bad, MethodOccurrences, nil)
	wantCode(t, err, codes.Unauthenticated)

	stream, err := cl.Watch(bad)
	if err == nil {
		_, err = stream.Recv()
	}
	wantCode(t, err, codes.Unauthenticated)

	_, err = cl.Call(ctx, MethodRegister, mustStruct(t, map[string]any{"username": "x", "password": "short"}))
	wantCode(t, err, codes.InvalidArgument)

	signup(t, cl, "carol")
	_, err = cl.Call(ctx, MethodRegister, mustStruct(t, map[string]any{"username": "carol", "password": "correct horse"}))
	wantCode(t, err, codes.AlreadyExists)

	_, err = cl.Call(ctx, MethodLogin, mustStruct(t, map[string]any{"username": "carol", "password": "wrong password"}))
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_E2E_ValidationErrors(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	alice := signup(t, cl, "alice")

	_, err := cl.Call(alice.ctx, MethodGetEvent, mustStruct(t, map[string]any{"event_id": "not-a-uuid"}))
	wantCode(t, err, codes.InvalidArgument)

	_, err = cl.Call(alice.ctx, MethodCreateEvent, mustStruct(t, map[string]any{
		"title": "Backwards", "start": "2024-03-20T11:00:00Z", "end": "2024-03-20T10:00:00Z",
	}))
	wantCode(t, err, codes.InvalidArgument)

	_, err = cl.Call(alice.ctx, MethodOccurrences, mustStruct(t, map[string]any{
		"from": "2024-01-01T00:00:00Z", "to": "2025-06-01T00:00:00Z",
	}))
	wantCode(t, err, codes.InvalidArgument)

	_, err = cl.Call(alice.ctx, MethodShareEvent, mustStruct(t, map[string]any{
		"event_id": "00000000-0000-0000-0000-000000000001",
		"user_id":  alice.id,
		"role":     "admin",
	}))
	wantCode(t, err, codes.InvalidArgument)
}
