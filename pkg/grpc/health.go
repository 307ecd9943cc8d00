package grpc

import (
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer reports the controller's serving state. The empty service
// name tracks process liveness and stays SERVING until shutdown; the
// registered services follow SetServing.
type HealthServer struct {
	server *health.Server

	mu       sync.Mutex
	services []string
	serving  bool
}

// NewHealthServer creates a health server with no tracked services.
func NewHealthServer() *HealthServer {
	return &HealthServer{server: health.NewServer()}
}

// Track adds service to the set SetServing updates, starting it in the
// current state.
func (h *HealthServer) Track(service string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = append(h.services, service)
	h.server.SetServingStatus(service, servingStatus(h.serving))
}

// SetServing marks every tracked service SERVING or NOT_SERVING.
func (h *HealthServer) SetServing(serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serving = serving
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, service := range h.services {
		h.server.SetServingStatus(service, servingStatus(serving))
	}
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

func servingStatus(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
