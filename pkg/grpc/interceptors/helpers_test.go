package interceptors

import (
	"context"
	"io"
	"reflect"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	trimMethod      = "/clusterctl.v1.ClusterCtrl/TrimLog"
	heartbeatMethod = "/clusterctl.v1.ClusterCtrl/Heartbeat"
	stateMethod     = "/clusterctl.v1.ClusterCtrl/GetClusterState"
	watchMethod     = "/clusterctl.v1.ClusterCtrl/WatchEvents"
	healthMethod    = "/grpc.health.v1.Health/Check"
)

func unaryInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func streamInfo(method string) *grpc.StreamServerInfo {
	return &grpc.StreamServerInfo{FullMethod: method, IsServerStream: true}
}

// reply returns a unary handler that answers with err.
func reply(err error) grpc.UnaryHandler {
	return func(context.Context, interface{}) (interface{}, error) {
		if err != nil {
			return nil, err
		}
		return "ok", nil
	}
}

// fakeStream is a server stream that replays inbound messages and records
// headers.
type fakeStream struct {
	grpc.ServerStream
	ctx     context.Context
	inbound []interface{}
	header  metadata.MD
	sent    int
}

func newFakeStream(ctx context.Context, inbound ...interface{}) *fakeStream {
	return &fakeStream{ctx: ctx, inbound: inbound, header: metadata.MD{}}
}

func (s *fakeStream) Context() context.Context { return s.ctx }

func (s *fakeStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *fakeStream) SendMsg(interface{}) error {
	s.sent++
	return nil
}

func (s *fakeStream) RecvMsg(m interface{}) error {
	if len(s.inbound) == 0 {
		return io.EOF
	}
	next := s.inbound[0]
	s.inbound = s.inbound[1:]
	reflect.ValueOf(m).Elem().Set(reflect.ValueOf(next))
	return nil
}
