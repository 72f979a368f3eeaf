// Package api exposes the daemon over gRPC on the profile's Unix socket.
// Payloads are protobuf well-known types (Empty, Struct and wrappers); the
// Struct bodies carry the JSON shapes declared in types.go.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "remotememo.v1.Control"

// ControlServer is the server side of the control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ForceSync(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListBlocks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	VerifyChain(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSyncLogs(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	ClearSyncLogs(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	ListMessages(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkPlayed(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStream) error
}

// ControlServiceDesc describes the control service for grpc.Server.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ControlServer.GetStatus),
		unary("ForceSync", ControlServer.ForceSync),
		unary("ListBlocks", ControlServer.ListBlocks),
		unary("VerifyChain", ControlServer.VerifyChain),
		unary("ListSyncLogs", ControlServer.ListSyncLogs),
		unary("ClearSyncLogs", ControlServer.ClearSyncLogs),
		unary("ListMessages", ControlServer.ListMessages),
		unary("SendMessage", ControlServer.SendMessage),
		unary("MarkPlayed", ControlServer.MarkPlayed),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "remotememo/v1/control",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for one request/response RPC.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(ControlServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, stream)
}
