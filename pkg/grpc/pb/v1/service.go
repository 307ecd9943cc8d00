package clusterctlv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/clusterctl/pkg/grpc/codec"
)

// ServiceName is the fully qualified service name.
const ServiceName = "clusterctl.v1.ClusterCtrl"

// Full method names.
const (
	MethodGetClusterState    = "/" + ServiceName + "/GetClusterState"
	MethodTrimLog            = "/" + ServiceName + "/TrimLog"
	MethodGetSafeTrimPoint   = "/" + ServiceName + "/GetSafeTrimPoint"
	MethodGetPartitionLeader = "/" + ServiceName + "/GetPartitionLeader"
	MethodAttachNode         = "/" + ServiceName + "/AttachNode"
	MethodHeartbeat          = "/" + ServiceName + "/Heartbeat"
	MethodWatchEvents        = "/" + ServiceName + "/WatchEvents"
)

// ClusterCtrlServer is the server API of the ClusterCtrl service.
type ClusterCtrlServer interface {
	GetClusterState(context.Context, *GetClusterStateRequest) (*GetClusterStateResponse, error)
	TrimLog(context.Context, *TrimLogRequest) (*TrimLogResponse, error)
	GetSafeTrimPoint(context.Context, *GetSafeTrimPointRequest) (*GetSafeTrimPointResponse, error)
	GetPartitionLeader(context.Context, *GetPartitionLeaderRequest) (*GetPartitionLeaderResponse, error)
	AttachNode(context.Context, *AttachNodeRequest) (*AttachNodeResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[Event]) error
}

// UnimplementedClusterCtrlServer returns Unimplemented for every method.
type UnimplementedClusterCtrlServer struct{}

func (UnimplementedClusterCtrlServer) GetClusterState(context.Context, *GetClusterStateRequest) (*GetClusterStateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetClusterState not implemented")
}

func (UnimplementedClusterCtrlServer) TrimLog(context.Context, *TrimLogRequest) (*TrimLogResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method TrimLog not implemented")
}

func (UnimplementedClusterCtrlServer) GetSafeTrimPoint(context.Context, *GetSafeTrimPointRequest) (*GetSafeTrimPointResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSafeTrimPoint not implemented")
}

func (UnimplementedClusterCtrlServer) GetPartitionLeader(context.Context, *GetPartitionLeaderRequest) (*GetPartitionLeaderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPartitionLeader not implemented")
}

func (UnimplementedClusterCtrlServer) AttachNode(context.Context, *AttachNodeRequest) (*AttachNodeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AttachNode not implemented")
}

func (UnimplementedClusterCtrlServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}

func (UnimplementedClusterCtrlServer) WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[Event]) error {
	return status.Error(codes.Unimplemented, "method WatchEvents not implemented")
}

// RegisterClusterCtrlServer registers srv with s.
func RegisterClusterCtrlServer(s grpc.ServiceRegistrar, srv ClusterCtrlServer) {
	s.RegisterService(&ClusterCtrlServiceDesc, srv)
}

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](fullMethod string, call func(ClusterCtrlServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClusterCtrlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClusterCtrlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClusterCtrlServer).WatchEvents(in, &grpc.GenericServerStream[WatchEventsRequest, Event]{ServerStream: stream})
}

// ClusterCtrlServiceDesc is the grpc.ServiceDesc of the ClusterCtrl service.
var ClusterCtrlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClusterCtrlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetClusterState",
			Handler:    unaryHandler(MethodGetClusterState, ClusterCtrlServer.GetClusterState),
		},
		{
			MethodName: "TrimLog",
			Handler:    unaryHandler(MethodTrimLog, ClusterCtrlServer.TrimLog),
		},
		{
			MethodName: "GetSafeTrimPoint",
			Handler:    unaryHandler(MethodGetSafeTrimPoint, ClusterCtrlServer.GetSafeTrimPoint),
		},
		{
			MethodName: "GetPartitionLeader",
			Handler:    unaryHandler(MethodGetPartitionLeader, ClusterCtrlServer.GetPartitionLeader),
		},
		{
			MethodName: "AttachNode",
			Handler:    unaryHandler(MethodAttachNode, ClusterCtrlServer.AttachNode),
		},
		{
			MethodName: "Heartbeat",
			Handler:    unaryHandler(MethodHeartbeat, ClusterCtrlServer.Heartbeat),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "clusterctl/v1/cluster_ctrl.proto",
}

// ClusterCtrlClient is the client API of the ClusterCtrl service.
type ClusterCtrlClient interface {
	GetClusterState(ctx context.Context, in *GetClusterStateRequest, opts ...grpc.CallOption) (*GetClusterStateResponse, error)
	TrimLog(ctx context.Context, in *TrimLogRequest, opts ...grpc.CallOption) (*TrimLogResponse, error)
	GetSafeTrimPoint(ctx context.Context, in *GetSafeTrimPointRequest, opts ...grpc.CallOption) (*GetSafeTrimPointResponse, error)
	GetPartitionLeader(ctx context.Context, in *GetPartitionLeaderRequest, opts ...grpc.CallOption) (*GetPartitionLeaderResponse, error)
	AttachNode(ctx context.Context, in *AttachNodeRequest, opts ...grpc.CallOption) (*AttachNodeResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error)
}

type clusterCtrlClient struct {
	cc grpc.ClientConnInterface
}

// NewClusterCtrlClient creates a client over cc. Calls always use the
// service codec.
func NewClusterCtrlClient(cc grpc.ClientConnInterface) ClusterCtrlClient {
	return &clusterCtrlClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{codec.CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterCtrlClient) GetClusterState(ctx context.Context, in *GetClusterStateRequest, opts ...grpc.CallOption) (*GetClusterStateResponse, error) {
	return invoke[GetClusterStateResponse](ctx, c.cc, MethodGetClusterState, in, opts)
}

func (c *clusterCtrlClient) TrimLog(ctx context.Context, in *TrimLogRequest, opts ...grpc.CallOption) (*TrimLogResponse, error) {
	return invoke[TrimLogResponse](ctx, c.cc, MethodTrimLog, in, opts)
}

func (c *clusterCtrlClient) GetSafeTrimPoint(ctx context.Context, in *GetSafeTrimPointRequest, opts ...grpc.CallOption) (*GetSafeTrimPointResponse, error) {
	return invoke[GetSafeTrimPointResponse](ctx, c.cc, MethodGetSafeTrimPoint, in, opts)
}

func (c *clusterCtrlClient) GetPartitionLeader(ctx context.Context, in *GetPartitionLeaderRequest, opts ...grpc.CallOption) (*GetPartitionLeaderResponse, error) {
	return invoke[GetPartitionLeaderResponse](ctx, c.cc, MethodGetPartitionLeader, in, opts)
}

func (c *clusterCtrlClient) AttachNode(ctx context.Context, in *AttachNodeRequest, opts ...grpc.CallOption) (*AttachNodeResponse, error) {
	return invoke[AttachNodeResponse](ctx, c.cc, MethodAttachNode, in, opts)
}

func (c *clusterCtrlClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, MethodHeartbeat, in, opts)
}

func (c *clusterCtrlClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error) {
	opts = append([]grpc.CallOption{codec.CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &ClusterCtrlServiceDesc.Streams[0], MethodWatchEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchEventsRequest, Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
