package handlers

import (
	"net/http"

	"github.com/goclaw/clusterctl/pkg/api/response"
	"github.com/goclaw/clusterctl/pkg/version"
)

// ReadinessProbe reports whether the controller loop is running.
type ReadinessProbe interface {
	Running() bool
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Running            bool              `json:"running"`
	NodesConfigVersion uint64            `json:"nodes_config_version"`
	AliveNodes         int               `json:"alive_nodes"`
	DeadNodes          int               `json:"dead_nodes"`
	Conflicts          int               `json:"leadership_conflicts"`
	Version            map[string]string `json:"version"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	probe ReadinessProbe
	svc   ClusterService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(probe ReadinessProbe, svc ClusterService) *HealthHandler {
	return &HealthHandler{
		probe: probe,
		svc:   svc,
	}
}

// Health handles the /health endpoint (liveness probe). The process is
// live as long as it can answer.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.probe != nil && h.probe.Running() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
	}
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{Version: version.Info()}
	if h.probe != nil {
		status.Running = h.probe.Running()
	}
	if h.svc != nil {
		state := h.svc.GetClusterState(r.Context())
		status.NodesConfigVersion = uint64(state.NodesConfigVersion)
		status.Conflicts = len(state.LeadershipConflicts)
		for _, node := range state.Nodes {
			if _, ok := node.Alive(); ok {
				status.AliveNodes++
			} else if _, ok := node.Dead(); ok {
				status.DeadNodes++
			}
		}
	}
	response.JSON(w, http.StatusOK, status)
}

