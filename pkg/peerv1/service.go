package peerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "peer.v1.PeerService"

	PeerService_ApplyMutation_FullMethodName = "/peer.v1.PeerService/ApplyMutation"
	PeerService_ReadRow_FullMethodName       = "/peer.v1.PeerService/ReadRow"
	PeerService_ReadDigest_FullMethodName    = "/peer.v1.PeerService/ReadDigest"
	PeerService_GetSplits_FullMethodName     = "/peer.v1.PeerService/GetSplits"
	PeerService_FetchRange_FullMethodName    = "/peer.v1.PeerService/FetchRange"
	PeerService_Handoff_FullMethodName       = "/peer.v1.PeerService/Handoff"
)

// PeerServiceClient is the client API for the peer service.
type PeerServiceClient interface {
	ApplyMutation(ctx context.Context, in *ApplyMutationRequest, opts ...grpc.CallOption) (*ApplyMutationResponse, error)
	ReadRow(ctx context.Context, in *ReadRowRequest, opts ...grpc.CallOption) (*ReadRowResponse, error)
	ReadDigest(ctx context.Context, in *ReadDigestRequest, opts ...grpc.CallOption) (*ReadDigestResponse, error)
	GetSplits(ctx context.Context, in *GetSplitsRequest, opts ...grpc.CallOption) (*GetSplitsResponse, error)
	FetchRange(ctx context.Context, in *FetchRangeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FetchRangeResponse], error)
	Handoff(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[HandoffRequest, HandoffResponse], error)
}

type peerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPeerServiceClient wraps cc. Every call uses the JSON codec.
func NewPeerServiceClient(cc grpc.ClientConnInterface) PeerServiceClient {
	return &peerServiceClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{CallOption()}, opts...)
}

func (c *peerServiceClient) ApplyMutation(ctx context.Context, in *ApplyMutationRequest, opts ...grpc.CallOption) (*ApplyMutationResponse, error) {
	out := new(ApplyMutationResponse)
	if err := c.cc.Invoke(ctx, PeerService_ApplyMutation_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) ReadRow(ctx context.Context, in *ReadRowRequest, opts ...grpc.CallOption) (*ReadRowResponse, error) {
	out := new(ReadRowResponse)
	if err := c.cc.Invoke(ctx, PeerService_ReadRow_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) ReadDigest(ctx context.Context, in *ReadDigestRequest, opts ...grpc.CallOption) (*ReadDigestResponse, error) {
	out := new(ReadDigestResponse)
	if err := c.cc.Invoke(ctx, PeerService_ReadDigest_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) GetSplits(ctx context.Context, in *GetSplitsRequest, opts ...grpc.CallOption) (*GetSplitsResponse, error) {
	out := new(GetSplitsResponse)
	if err := c.cc.Invoke(ctx, PeerService_GetSplits_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerServiceClient) FetchRange(ctx context.Context, in *FetchRangeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FetchRangeResponse], error) {
	stream, err := c.cc.NewStream(ctx, &PeerService_ServiceDesc.Streams[0], PeerService_FetchRange_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[FetchRangeRequest, FetchRangeResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *peerServiceClient) Handoff(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[HandoffRequest, HandoffResponse], error) {
	stream, err := c.cc.NewStream(ctx, &PeerService_ServiceDesc.Streams[1], PeerService_Handoff_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[HandoffRequest, HandoffResponse]{ClientStream: stream}, nil
}

// PeerServiceServer is the server API for the peer service.
type PeerServiceServer interface {
	ApplyMutation(context.Context, *ApplyMutationRequest) (*ApplyMutationResponse, error)
	ReadRow(context.Context, *ReadRowRequest) (*ReadRowResponse, error)
	ReadDigest(context.Context, *ReadDigestRequest) (*ReadDigestResponse, error)
	GetSplits(context.Context, *GetSplitsRequest) (*GetSplitsResponse, error)
	FetchRange(*FetchRangeRequest, grpc.ServerStreamingServer[FetchRangeResponse]) error
	Handoff(grpc.ClientStreamingServer[HandoffRequest, HandoffResponse]) error
}

// UnimplementedPeerServiceServer returns Unimplemented for every method.
type UnimplementedPeerServiceServer struct{}

func (UnimplementedPeerServiceServer) ApplyMutation(context.Context, *ApplyMutationRequest) (*ApplyMutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ApplyMutation not implemented")
}
func (UnimplementedPeerServiceServer) ReadRow(context.Context, *ReadRowRequest) (*ReadRowResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReadRow not implemented")
}
func (UnimplementedPeerServiceServer) ReadDigest(context.Context, *ReadDigestRequest) (*ReadDigestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReadDigest not implemented")
}
func (UnimplementedPeerServiceServer) GetSplits(context.Context, *GetSplitsRequest) (*GetSplitsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSplits not implemented")
}
func (UnimplementedPeerServiceServer) FetchRange(*FetchRangeRequest, grpc.ServerStreamingServer[FetchRangeResponse]) error {
	return status.Error(codes.Unimplemented, "method FetchRange not implemented")
}
func (UnimplementedPeerServiceServer) Handoff(grpc.ClientStreamingServer[HandoffRequest, HandoffResponse]) error {
	return status.Error(codes.Unimplemented, "method Handoff not implemented")
}

// RegisterPeerServiceServer registers srv on s.
func RegisterPeerServiceServer(s grpc.ServiceRegistrar, srv PeerServiceServer) {
	s.RegisterService(&PeerService_ServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(PeerServiceServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PeerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PeerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fetchRangeHandler(srv any, stream grpc.ServerStream) error {
	m := new(FetchRangeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PeerServiceServer).FetchRange(m, &grpc.GenericServerStream[FetchRangeRequest, FetchRangeResponse]{ServerStream: stream})
}

func handoffHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PeerServiceServer).Handoff(&grpc.GenericServerStream[HandoffRequest, HandoffResponse]{ServerStream: stream})
}

// PeerService_ServiceDesc describes the peer service for grpc registration.
var PeerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PeerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyMutation",
			Handler: unaryHandler(PeerService_ApplyMutation_FullMethodName, func(s PeerServiceServer, ctx context.Context, in *ApplyMutationRequest) (any, error) {
				return s.ApplyMutation(ctx, in)
			}),
		},
		{
			MethodName: "ReadRow",
			Handler: unaryHandler(PeerService_ReadRow_FullMethodName, func(s PeerServiceServer, ctx context.Context, in *ReadRowRequest) (any, error) {
				return s.ReadRow(ctx, in)
			}),
		},
		{
			MethodName: "ReadDigest",
			Handler: unaryHandler(PeerService_ReadDigest_FullMethodName, func(s PeerServiceServer, ctx context.Context, in *ReadDigestRequest) (any, error) {
				return s.ReadDigest(ctx, in)
			}),
		},
		{
			MethodName: "GetSplits",
			Handler: unaryHandler(PeerService_GetSplits_FullMethodName, func(s PeerServiceServer, ctx context.Context, in *GetSplitsRequest) (any, error) {
				return s.GetSplits(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchRange",
			Handler:       fetchRangeHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "Handoff",
			Handler:       handoffHandler,
			ClientStreams: true,
		},
	},
	Metadata: "peer/v1/peer.go",
}
