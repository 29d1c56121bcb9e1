// Package grpcserver exposes the teamcal gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/teamcal/internal/convert"
	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/notify"
	"github.com/and161185/teamcal/internal/service"
	"github.com/and161185/teamcal/internal/versioning"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth   service.AuthService
	events service.EventService
	notes  service.NotificationService
	hub    *notify.Hub
	log    *zap.Logger
}

var _ SchedulerServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, events service.EventService, notes service.NotificationService, hub *notify.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, events: events, notes: notes, hub: hub, log: log}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := convert.NewReader(req)
	username, password := r.String("username"), r.String("password")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	id, err := s.auth.Register(ctx, username, password)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"user_id": id.String()})
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := convert.NewReader(req)
	username, password := r.String("username"), r.String("password")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	tok, u, err := s.auth.Login(ctx, username, password, remoteIP(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{
		"access_token": tok.AccessToken,
		"expires_at":   convert.FormatTime(tok.ExpiresAt),
		"user_id":      u.ID.String(),
		"username":     u.Username,
	})
}

// --- Events ---

// CreateEvent creates one event owned by the caller.
func (s *Server) CreateEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	d, err := convert.DraftFromStruct(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	res, err := s.events.Create(ctx, actor, d)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, resultMap(res))
}

// CreateEvents creates a batch of events atomically.
func (s *Server) CreateEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	ds, err := convert.DraftsFromStruct(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	res, err := s.events.BatchCreate(ctx, actor, ds)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"results": convert.List(res, resultMap)})
}

// GetEvent returns a single event by id.
func (s *Server) GetEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("event_id")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	ev, err := s.events.Get(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"event": convert.EventMap(*ev)})
}

// UpdateEvent applies the "patch" object to an event.
func (s *Server) UpdateEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("event_id")
	raw := r.Struct("patch")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	p, err := convert.PatchFromStruct(raw)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	res, err := s.events.Update(ctx, actor, id, p)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, resultMap(res))
}

// DeleteEvent soft-deletes an event.
func (s *Server) DeleteEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("event_id")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	v, err := s.events.Delete(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"version": versionMap(v)})
}

// ShareEvent grants user_id the given role.
func (s *Server) ShareEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id, target, raw := r.UUID("event_id"), r.UUID("user_id"), r.String("role")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	role, err := model.ParseRole(raw)
	if err != nil {
		return nil, s.fail(ctx, errs.Validation("role", err.Error()))
	}
	p, err := s.events.Share(ctx, actor, id, target, role)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"permission": convert.PermissionMap(p)})
}

// UnshareEvent revokes user_id's access.
func (s *Server) UnshareEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id, target := r.UUID("event_id"), r.UUID("user_id")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	if err := s.events.Unshare(ctx, actor, id, target); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// ListPermissions lists who has access to an event.
func (s *Server) ListPermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("event_id")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	ps, err := s.events.Permissions(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"permissions": convert.List(ps, convert.PermissionMap)})
}

// --- Versions ---

// History returns a page of an event's versions.
func (s *Server) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("event_id")
	page := r.Page()
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	vs, err := s.events.History(ctx, actor, id, page)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"versions": convert.List(vs, versionMap)})
}

// GetVersion returns one version.
func (s *Server) GetVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id, seq := r.UUID("event_id"), r.Int("seq")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	v, err := s.events.Version(ctx, actor, id, seq)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"version": versionMap(*v)})
}

// Diff compares two versions of an event.
func (s *Server) Diff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id, from, to := r.UUID("event_id"), r.Int("from"), r.Int("to")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	changes, err := s.events.Diff(ctx, actor, id, from, to)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{
		"changes":   convert.List(changes, convert.FieldChangeMap),
		"changelog": versioning.Changelog(model.Version{Kind: model.VersionUpdated, Diff: changes}),
	})
}

// Rollback restores an earlier version as the newest one.
func (s *Server) Rollback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id, seq := r.UUID("event_id"), r.Int("seq")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	res, err := s.events.Rollback(ctx, actor, id, seq)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, resultMap(res))
}

// --- Calendar ---

// Occurrences expands the caller's visible events within [from, to).
func (s *Server) Occurrences(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	from, to := r.Time("from"), r.Time("to")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	occ, err := s.events.Occurrences(ctx, actor, from, to)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"occurrences": convert.List(occ, convert.OccurrenceMap)})
}

// CheckConflicts reports overlaps of a draft with the caller's visible events.
func (s *Server) CheckConflicts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	d, err := convert.DraftFromStruct(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	cs, err := s.events.CheckConflicts(ctx, actor, d)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"conflicts": convert.List(cs, convert.ConflictMap)})
}

// --- Notifications ---

// ListNotifications returns stored notifications of the caller.
func (s *Server) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	unread := r.Bool("unread_only")
	page := r.Page()
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	ns, err := s.notes.List(ctx, user, unread, page)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"notifications": convert.List(ns, convert.NotificationMap)})
}

// MarkNotificationRead marks one notification read.
func (s *Server) MarkNotificationRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	r := convert.NewReader(req)
	id := r.UUID("notification_id")
	if err := r.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}
	n, err := s.notes.MarkRead(ctx, user, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"notification": convert.NotificationMap(*n)})
}

// MarkAllNotificationsRead marks every unread notification of the caller read.
func (s *Server) MarkAllNotificationsRead(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, err := principal(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	n, err := s.notes.MarkAllRead(ctx, user)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{"updated": n})
}

// --- helpers ---

func principal(ctx context.Context) (uuid.UUID, error) {
	id, ok := UserIDFromCtx(ctx)
	if !ok || id == uuid.Nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

func versionMap(v model.Version) map[string]any {
	return convert.VersionMap(v, versioning.Changelog(v))
}

func resultMap(res service.EventResult) map[string]any {
	return map[string]any{
		"event":     convert.EventMap(res.Event),
		"version":   versionMap(res.Version),
		"conflicts": convert.List(res.Conflicts, convert.ConflictMap),
	}
}

func (s *Server) reply(ctx context.Context, m map[string]any) (*structpb.Struct, error) {
	out, err := convert.ToStruct(m)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return out, nil
}

// fail maps err to a status. Internal errors are logged and hidden from the client.
func (s *Server) fail(ctx context.Context, err error) error {
	st := toStatus(err)
	if st.Code() == codes.Internal {
		method, _ := grpc.Method(ctx)
		s.log.Error("request failed", zap.String("method", method), zap.Error(err))
	}
	return st.Err()
}

func toStatus(err error) *status.Status {
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrVersionConflict):
		code = codes.Aborted
	case errors.Is(err, errs.ErrResourceExhausted), errors.Is(err, errs.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrInvalidOperation):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	default:
		if st, ok := status.FromError(err); ok {
			return st
		}
		return status.New(codes.Internal, "internal")
	}
	return status.New(code, err.Error())
}
