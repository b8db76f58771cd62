// ABOUTME: gRPC service descriptor and client for the signal relay
// ABOUTME: Messages are protobuf well-known types so no generated code is needed

package relayrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "moss.relay.v1.SignalRelay"

// Full method names, as seen by interceptors.
const (
	ConnectMethod     = "/" + ServiceName + "/Connect"
	ListMembersMethod = "/" + ServiceName + "/ListMembers"
)

// ConnectServer is the relay's side of a Connect stream. Each message is a
// JSON frame wrapped in a BytesValue.
type ConnectServer = grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]

// ConnectClient is the peer's side of a Connect stream.
type ConnectClient = grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]

// SignalRelayServer is implemented by the relay.
type SignalRelayServer interface {
	// Connect carries OutboundFrames from the peer and InboundFrames to it.
	Connect(stream ConnectServer) error
	// ListMembers returns the group roster as a list of member structs.
	ListMembers(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SignalRelayServer).Connect(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

func listMembersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignalRelayServer).ListMembers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ListMembersMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SignalRelayServer).ListMembers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the relay service to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SignalRelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListMembers",
			Handler:    listMembersHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "moss/relay/v1/relay.proto",
}

// RegisterSignalRelayServer registers srv on s.
func RegisterSignalRelayServer(s grpc.ServiceRegistrar, srv SignalRelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the relay service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Connect opens the bidirectional signal stream.
func (c *Client) Connect(ctx context.Context, opts ...grpc.CallOption) (ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: stream}, nil
}

// ListMembers fetches and decodes the roster.
func (c *Client) ListMembers(ctx context.Context, opts ...grpc.CallOption) ([]Member, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListMembersMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	members, err := MembersFromList(out)
	if err != nil {
		return nil, fmt.Errorf("decoding roster: %w", err)
	}
	return members, nil
}
