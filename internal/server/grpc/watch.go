package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var errChannelClosed = errors.New("channel closed")

// streamChannel is a notify.Channel over a server stream. Sends are serialized.
type streamChannel struct {
	stream grpc.ServerStreamingServer[structpb.Struct]

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func newStreamChannel(stream grpc.ServerStreamingServer[structpb.Struct]) *streamChannel {
	return &streamChannel{stream: stream, done: make(chan struct{})}
}

func (c *streamChannel) send(msg *structpb.Struct) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(msg)
}

// Push converts a JSON frame into a Struct and sends it, giving up when ctx ends.
func (c *streamChannel) Push(ctx context.Context, frame []byte) error {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(frame, msg); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- c.send(msg) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errChannelClosed
	}
}

func (c *streamChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Watch streams the caller's notifications until the client leaves or the
// channel is dropped. The first message is {"type":"subscribed"}.
func (s *Server) Watch(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	user, err := principal(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	if s.hub == nil {
		return status.Error(codes.Unimplemented, "live notifications disabled")
	}
	ch := newStreamChannel(stream)
	sub, err := s.hub.Subscribe(user, ch)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer s.hub.Unsubscribe(sub)

	select {
	case <-ctx.Done():
		return nil
	case <-sub.Done():
		if ctx.Err() != nil {
			return nil
		}
		return status.Error(codes.Unavailable, "live channel dropped")
	}
}
