package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/teamcal/internal/auth"
)

type ctxKey string

const userIDKey ctxKey = "teamcal.userID"

// WithUserID stores authenticated user ID in context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx fetches user ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

var publicMethods = map[string]bool{
	FullMethod(MethodRegister): true,
	FullMethod(MethodLogin):    true,
}

// needsAuth reports whether a method of this service requires a bearer token.
// Other services on the same server (health, reflection) are left alone.
func needsAuth(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+ServiceName+"/") && !publicMethods[fullMethod]
}

func authenticate(ctx context.Context, p auth.Provider) (context.Context, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id, err := p.Authenticate(ctx, tok)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return WithUserID(ctx, id), nil
}

// AuthUnary resolves "authorization: Bearer <token>" into the context user ID.
func AuthUnary(p auth.Provider) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !needsAuth(info.FullMethod) {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, p)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// AuthStream is AuthUnary for streaming methods.
func AuthStream(p auth.Provider) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if !needsAuth(info.FullMethod) {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), p)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
