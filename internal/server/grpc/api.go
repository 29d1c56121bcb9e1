package grpcserver

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "teamcal.v1.Scheduler"

// Method names of the Scheduler service.
const (
	MethodRegister                 = "Register"
	MethodLogin                    = "Login"
	MethodCreateEvent              = "CreateEvent"
	MethodCreateEvents             = "CreateEvents"
	MethodGetEvent                 = "GetEvent"
	MethodUpdateEvent              = "UpdateEvent"
	MethodDeleteEvent              = "DeleteEvent"
	MethodShareEvent               = "ShareEvent"
	MethodUnshareEvent             = "UnshareEvent"
	MethodListPermissions          = "ListPermissions"
	MethodHistory                  = "History"
	MethodGetVersion               = "GetVersion"
	MethodDiff                     = "Diff"
	MethodRollback                 = "Rollback"
	MethodOccurrences              = "Occurrences"
	MethodCheckConflicts           = "CheckConflicts"
	MethodListNotifications        = "ListNotifications"
	MethodMarkNotificationRead     = "MarkNotificationRead"
	MethodMarkAllNotificationsRead = "MarkAllNotificationsRead"
	MethodWatch                    = "Watch"
)

// FullMethod returns "/teamcal.v1.Scheduler/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// SchedulerServer is the server API. Every message is a google.protobuf.Struct.
type SchedulerServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShareEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnshareEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPermissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Diff(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rollback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Occurrences(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckConflicts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkNotificationRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAllNotificationsRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryMethod func(SchedulerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(SchedulerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(srv.(SchedulerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SchedulerServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes teamcal.v1.Scheduler for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegister, SchedulerServer.Register),
		unary(MethodLogin, SchedulerServer.Login),
		unary(MethodCreateEvent, SchedulerServer.CreateEvent),
		unary(MethodCreateEvents, SchedulerServer.CreateEvents),
		unary(MethodGetEvent, SchedulerServer.GetEvent),
		unary(MethodUpdateEvent, SchedulerServer.UpdateEvent),
		unary(MethodDeleteEvent, SchedulerServer.DeleteEvent),
		unary(MethodShareEvent, SchedulerServer.ShareEvent),
		unary(MethodUnshareEvent, SchedulerServer.UnshareEvent),
		unary(MethodListPermissions, SchedulerServer.ListPermissions),
		unary(MethodHistory, SchedulerServer.History),
		unary(MethodGetVersion, SchedulerServer.GetVersion),
		unary(MethodDiff, SchedulerServer.Diff),
		unary(MethodRollback, SchedulerServer.Rollback),
		unary(MethodOccurrences, SchedulerServer.Occurrences),
		unary(MethodCheckConflicts, SchedulerServer.CheckConflicts),
		unary(MethodListNotifications, SchedulerServer.ListNotifications),
		unary(MethodMarkNotificationRead, SchedulerServer.MarkNotificationRead),
		unary(MethodMarkAllNotificationsRead, SchedulerServer.MarkAllNotificationsRead),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    MethodWatch,
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "teamcal/v1/scheduler.proto",
}

// RegisterSchedulerServer registers srv on s.
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the Scheduler service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a unary method by name. A nil req is sent as an empty Struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the live notification stream.
func (c *Client) Watch(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatch), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	// io.EOF means the server already ended the stream; Recv reports its status.
	if err := x.ClientStream.SendMsg(&structpb.Struct{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
