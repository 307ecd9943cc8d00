// Package handlers implements the ClusterCtrl gRPC service on top of the
// controller façade.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/clusterctl/pkg/api/events"
	"github.com/goclaw/clusterctl/pkg/cluster"
	pb "github.com/goclaw/clusterctl/pkg/grpc/pb/v1"
	"github.com/goclaw/clusterctl/pkg/logger"
)

// ClusterService is the controller surface served over gRPC.
type ClusterService interface {
	GetClusterState(ctx context.Context) cluster.ClusterState
	SafeTrimPoint(ctx context.Context, log cluster.LogID) (cluster.TrimPoint, bool, error)
	TrimLog(ctx context.Context, log cluster.LogID, point cluster.LSN) error
	PartitionLeader(ctx context.Context, partition cluster.PartitionID) (cluster.GenerationalNodeID, bool, error)
	AttachNode(ctx context.Context, node cluster.PlainNodeID) cluster.GenerationalNodeID
	Heartbeat(ctx context.Context, node cluster.GenerationalNodeID, sentAt time.Time) cluster.HeartbeatResult
	ReportStatus(ctx context.Context, node cluster.GenerationalNodeID, partition cluster.PartitionID, status cluster.PartitionProcessorStatus) cluster.ReportResult
}

// EventSource feeds the WatchEvents stream.
type EventSource interface {
	Subscribe(buffer int) chan events.Event
	Unsubscribe(ch chan events.Event)
}

const eventBufferSize = 64

// ClusterCtrlServer implements pb.ClusterCtrlServer.
type ClusterCtrlServer struct {
	pb.UnimplementedClusterCtrlServer
	svc    ClusterService
	events EventSource
	logger logger.Logger
}

// NewClusterCtrlServer creates the service implementation. events may be
// nil, in which case WatchEvents is unimplemented.
func NewClusterCtrlServer(svc ClusterService, events EventSource, log logger.Logger) *ClusterCtrlServer {
	if log == nil {
		log = logger.Global()
	}
	return &ClusterCtrlServer{svc: svc, events: events, logger: log}
}

// GetClusterState returns a cluster state snapshot.
func (s *ClusterCtrlServer) GetClusterState(ctx context.Context, req *pb.GetClusterStateRequest) (*pb.GetClusterStateResponse, error) {
	return &pb.GetClusterStateResponse{State: s.svc.GetClusterState(ctx)}, nil
}

// TrimLog trims a log if the requested point is safe.
func (s *ClusterCtrlServer) TrimLog(ctx context.Context, req *pb.TrimLogRequest) (*pb.TrimLogResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := s.svc.TrimLog(ctx, cluster.LogID(req.LogID), cluster.LSN(req.TrimPoint)); err != nil {
		return nil, toStatus(err)
	}
	return &pb.TrimLogResponse{LogID: req.LogID, TrimPoint: req.TrimPoint}, nil
}

// GetSafeTrimPoint returns the current safe trim point of a log.
func (s *ClusterCtrlServer) GetSafeTrimPoint(ctx context.Context, req *pb.GetSafeTrimPointRequest) (*pb.GetSafeTrimPointResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	point, ok, err := s.svc.SafeTrimPoint(ctx, cluster.LogID(req.LogID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.GetSafeTrimPointResponse{LogID: req.LogID, LSN: uint64(point.LSN), Safe: ok}, nil
}

// GetPartitionLeader resolves the leader of a partition.
func (s *ClusterCtrlServer) GetPartitionLeader(ctx context.Context, req *pb.GetPartitionLeaderRequest) (*pb.GetPartitionLeaderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	leader, ok, err := s.svc.PartitionLeader(ctx, cluster.PartitionID(req.PartitionID))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &pb.GetPartitionLeaderResponse{PartitionID: req.PartitionID}
	if ok {
		resp.Leader = &leader
	}
	return resp, nil
}

// AttachNode issues a new generation for a node.
func (s *ClusterCtrlServer) AttachNode(ctx context.Context, req *pb.AttachNodeRequest) (*pb.AttachNodeResponse, error) {
	if req == nil || req.NodeID == 0 {
		return nil, status.Error(codes.InvalidArgument, "node_id is required")
	}
	return &pb.AttachNodeResponse{Node: s.svc.AttachNode(ctx, cluster.PlainNodeID(req.NodeID))}, nil
}

// Heartbeat records a node heartbeat followed by its partition statuses.
// Reports from a stale incarnation are still forwarded so that they are
// counted and rejected by the aggregator.
func (s *ClusterCtrlServer) Heartbeat(ctx context.Context, req *pb.HeartbeatRequest) (*pb.HeartbeatResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// SentAt is the node's clock. The controller stamps liveness itself.
	var sentAt time.Time
	if req.SentAt != nil {
		sentAt = *req.SentAt
	}
	result := s.svc.Heartbeat(ctx, req.Node, sentAt)

	resp := &pb.HeartbeatResponse{Result: result.String()}
	for _, p := range req.Partitions {
		r := s.svc.ReportStatus(ctx, req.Node, cluster.PartitionID(p.Partition), p.Status)
		resp.Reports = append(resp.Reports, pb.ReportOutcome{Partition: p.Partition, Result: r.String()})
	}
	return resp, nil
}

// WatchEvents streams cluster events until the client goes away. Requested
// types select whole families, so "node" streams both node events.
func (s *ClusterCtrlServer) WatchEvents(req *pb.WatchEventsRequest, stream grpc.ServerStreamingServer[pb.Event]) error {
	if s.events == nil {
		return status.Error(codes.Unimplemented, "event stream not configured")
	}

	filter := make(map[string]struct{}, len(req.Types))
	for _, t := range req.Types {
		filter[t] = struct{}{}
	}

	ch := s.events.Subscribe(eventBufferSize)
	defer s.events.Unsubscribe(ch)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "event stream closed")
			}
			if !events.Match(filter, ev.Type) {
				continue
			}
			msg, err := toEvent(ev)
			if err != nil {
				s.logger.WarnContext(ctx, "dropping unencodable event", "type", ev.Type, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func toEvent(ev events.Event) (*pb.Event, error) {
	msg := &pb.Event{Type: ev.Type, Timestamp: ev.Timestamp}
	if ev.Payload != nil {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = payload
	}
	return msg, nil
}

// toStatus maps controller errors to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, cluster.ErrUnsafeTrim):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, cluster.ErrLeadershipAmbiguous):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, cluster.ErrUnknownLog):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, cluster.ErrTrimFailed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		if st, ok := status.FromError(err); ok {
			return st.Err()
		}
		return status.Error(codes.Internal, err.Error())
	}
}

var _ pb.ClusterCtrlServer = (*ClusterCtrlServer)(nil)
