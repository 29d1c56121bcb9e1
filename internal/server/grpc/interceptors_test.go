package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestLoggingUnary_LogsMetadataOnly(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := LoggingUnary(log)
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodLogin)}

	secret, _ := structpb.NewStruct(map[string]any{"username": "alice", "password": "hunter22"})
	resp, err := ic(ctx, secret, info, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 log entry, got %d", len(entries))
	}
	f := entries[0].ContextMap()
	if f["method"] != "/teamcal.v1.Scheduler/Login" || f["code"] != "OK" || f["peer"] != "127.0.0.1:12345" {
		t.Fatalf("unexpected fields: %v", f)
	}
	for k, v := range f {
		if s, ok := v.(string); ok && (s == "hunter22" || s == "alice") {
			t.Fatalf("payload leaked into field %q", k)
		}
	}
}

func TestLoggingUnary_KeepsErrorAndCode(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := LoggingUnary(log)
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetEvent)}

	wantErr := status.Error(codes.PermissionDenied, "forbidden")
	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
	if got := logs.All()[0].ContextMap()["code"]; got != "PermissionDenied" {
		t.Fatalf("code field = %v", got)
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := RecoverUnary(log)
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodCreateEvent)}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("oh no")
	})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal || st.Message() != "internal" {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
	if logs.FilterMessage("panic").Len() != 1 {
		t.Fatalf("panic not logged")
	}

	resp, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("no-panic path: %v, %v", resp, err)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: FullMethod(MethodWatch), IsServerStream: true}
	err := ic(nil, &fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("stream boom")
	})
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestLoggingStream_LogsOnEnd(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := LoggingStream(log)
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.StreamServerInfo{FullMethod: FullMethod(MethodWatch)}
	wantErr := status.Error(codes.Unavailable, "dropped")

	err := ic(nil, &fakeStream{ctx: ctx}, info, func(any, grpc.ServerStream) error {
		if logs.Len() != 0 {
			t.Errorf("stream logged before it ended")
		}
		return wantErr
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("want original error, got: %v", err)
	}
	f := logs.FilterMessage("grpc stream").All()
	if len(f) != 1 || f[0].ContextMap()["code"] != "Unavailable" {
		t.Fatalf("unexpected stream log: %v", logs.All())
	}
}
