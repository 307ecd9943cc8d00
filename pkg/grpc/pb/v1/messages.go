// Package clusterctlv1 defines the wire messages and service descriptor of
// the clusterctl.v1.ClusterCtrl gRPC service. Messages are encoded with the
// JSON codec in pkg/grpc/codec.
package clusterctlv1

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/goclaw/clusterctl/pkg/cluster"
)

// GetClusterStateRequest requests a cluster state snapshot.
type GetClusterStateRequest struct{}

// GetClusterStateResponse carries a cluster state snapshot.
type GetClusterStateResponse struct {
	State cluster.ClusterState `json:"state"`
}

// TrimLogRequest asks the controller to trim a log up to and including
// TrimPoint. A zero TrimPoint is a no-op.
type TrimLogRequest struct {
	LogID     uint64 `json:"log_id"`
	TrimPoint uint64 `json:"trim_point"`
}

// TrimLogResponse acknowledges a trim.
type TrimLogResponse struct {
	LogID     uint64 `json:"log_id"`
	TrimPoint uint64 `json:"trim_point"`
}

// GetSafeTrimPointRequest asks for the safe trim point of a log.
type GetSafeTrimPointRequest struct {
	LogID uint64 `json:"log_id"`
}

// GetSafeTrimPointResponse carries the safe trim point. Safe is false when
// no point is currently safe.
type GetSafeTrimPointResponse struct {
	LogID uint64 `json:"log_id"`
	LSN   uint64 `json:"lsn"`
	Safe  bool   `json:"safe"`
}

// GetPartitionLeaderRequest asks for the leader of a partition.
type GetPartitionLeaderRequest struct {
	PartitionID uint64 `json:"partition_id"`
}

// GetPartitionLeaderResponse carries the resolved leader, if any.
type GetPartitionLeaderResponse struct {
	PartitionID uint64                      `json:"partition_id"`
	Leader      *cluster.GenerationalNodeID `json:"leader,omitempty"`
}

// AttachNodeRequest asks for a new generation of a node.
type AttachNodeRequest struct {
	NodeID uint32 `json:"node_id" validate:"required"`
}

// AttachNodeResponse carries the issued generational id.
type AttachNodeResponse struct {
	Node cluster.GenerationalNodeID `json:"node"`
}

// PartitionStatus is one partition processor status in a heartbeat.
type PartitionStatus struct {
	Partition uint64                           `json:"partition"`
	Status    cluster.PartitionProcessorStatus `json:"status"`
}

// HeartbeatRequest carries a node heartbeat and the statuses of the
// partition processors running on it.
type HeartbeatRequest struct {
	Node       cluster.GenerationalNodeID `json:"node"`
	SentAt     *time.Time                 `json:"sent_at,omitempty"`
	Partitions []PartitionStatus          `json:"partitions,omitempty"`
}

// Validate checks the request before it reaches the controller.
func (r *HeartbeatRequest) Validate() error {
	if r.Node.Generation == 0 {
		return errors.New("node.generation: required")
	}
	seen := make(map[uint64]struct{}, len(r.Partitions))
	for _, p := range r.Partitions {
		if _, dup := seen[p.Partition]; dup {
			return errors.New("partitions: duplicate partition")
		}
		seen[p.Partition] = struct{}{}
		if p.Status.UpdatedAt.IsZero() {
			return errors.New("partitions.status.updated_at: required")
		}
	}
	return nil
}

// ReportOutcome is the result of one partition status report.
type ReportOutcome struct {
	Partition uint64 `json:"partition"`
	Result    string `json:"result"`
}

// HeartbeatResponse carries the heartbeat and report outcomes.
type HeartbeatResponse struct {
	Result  string          `json:"result"`
	Reports []ReportOutcome `json:"reports,omitempty"`
}

// WatchEventsRequest opens a cluster event stream. An empty Types list
// subscribes to every event type.
type WatchEventsRequest struct {
	Types []string `json:"types,omitempty"`
}

// Event is one cluster event.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
