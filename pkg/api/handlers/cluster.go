// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goclaw/clusterctl/pkg/api/middleware"
	"github.com/goclaw/clusterctl/pkg/api/response"
	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/logger"
)

// ClusterService is the controller surface exposed over HTTP.
type ClusterService interface {
	GetClusterState(ctx context.Context) cluster.ClusterState
	SafeTrimPoint(ctx context.Context, log cluster.LogID) (cluster.TrimPoint, bool, error)
	TrimLog(ctx context.Context, log cluster.LogID, point cluster.LSN) error
	PartitionLeader(ctx context.Context, partition cluster.PartitionID) (cluster.GenerationalNodeID, bool, error)
}

// TrimRequest is the body of POST /api/v1/logs/{id}/trim.
type TrimRequest struct {
	// TrimPoint is inclusive. Zero is accepted and does nothing.
	TrimPoint *uint64 `json:"trim_point" validate:"required"`
}

// TrimResponse acknowledges a trim.
type TrimResponse struct {
	LogID     uint64 `json:"log_id"`
	TrimPoint uint64 `json:"trim_point"`
}

// TrimPointResponse carries the safe trim point of a log.
type TrimPointResponse struct {
	LogID uint64 `json:"log_id"`
	LSN   uint64 `json:"lsn"`
	Safe  bool   `json:"safe"`
}

// LeaderResponse carries the leader of a partition, if one is known.
type LeaderResponse struct {
	PartitionID uint64                      `json:"partition_id"`
	Leader      *cluster.GenerationalNodeID `json:"leader,omitempty"`
}

// ClusterHandler handles cluster state and trim endpoints.
type ClusterHandler struct {
	svc       ClusterService
	logger    logger.Logger
	validator *validator.Validate
}

// NewClusterHandler creates a new cluster handler.
func NewClusterHandler(svc ClusterService, log logger.Logger) *ClusterHandler {
	if log == nil {
		log = logger.Global()
	}
	return &ClusterHandler{
		svc:       svc,
		logger:    log,
		validator: validator.New(),
	}
}

// GetClusterState handles GET /api/v1/cluster/state
func (h *ClusterHandler) GetClusterState(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.svc.GetClusterState(r.Context()))
}

// GetTrimPoint handles GET /api/v1/logs/{id}/trim-point
func (h *ClusterHandler) GetTrimPoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logID, ok := h.uintParam(w, r, "id", "log")
	if !ok {
		return
	}

	point, safe, err := h.svc.SafeTrimPoint(ctx, cluster.LogID(logID))
	if err != nil {
		h.writeClusterError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, TrimPointResponse{LogID: logID, LSN: uint64(point.LSN), Safe: safe})
}

// TrimLog handles POST /api/v1/logs/{id}/trim
func (h *ClusterHandler) TrimLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logID, ok := h.uintParam(w, r, "id", "log")
	if !ok {
		return
	}

	var req TrimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	if err := h.svc.TrimLog(ctx, cluster.LogID(logID), cluster.LSN(*req.TrimPoint)); err != nil {
		h.writeClusterError(w, r, err)
		return
	}

	h.logger.Info("log trimmed via api", "log", logID, "trim_point", *req.TrimPoint)
	response.JSON(w, http.StatusOK, TrimResponse{LogID: logID, TrimPoint: *req.TrimPoint})
}

// GetPartitionLeader handles GET /api/v1/partitions/{id}/leader
func (h *ClusterHandler) GetPartitionLeader(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partition, ok := h.uintParam(w, r, "id", "partition")
	if !ok {
		return
	}

	leader, found, err := h.svc.PartitionLeader(ctx, cluster.PartitionID(partition))
	if err != nil {
		h.writeClusterError(w, r, err)
		return
	}

	resp := LeaderResponse{PartitionID: partition}
	if found {
		resp.Leader = &leader
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *ClusterHandler) uintParam(w http.ResponseWriter, r *http.Request, name, what string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid "+what+" ID", getRequestID(r.Context()))
		return 0, false
	}
	return v, true
}

// writeClusterError maps controller errors to HTTP responses.
func (h *ClusterHandler) writeClusterError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r.Context())

	var unsafe *cluster.UnsafeTrimError
	var conflict *cluster.LeadershipConflictError
	switch {
	case errors.As(err, &unsafe):
		details := map[string]interface{}{"requested": uint64(unsafe.Requested), "safe": unsafe.Safe}
		if unsafe.Safe {
			details["safe_trim_point"] = uint64(unsafe.SafePoint)
		}
		response.ErrorWithDetails(w, http.StatusConflict, response.ErrCodeUnsafeTrim, err.Error(), details, requestID)
	case errors.As(err, &conflict):
		details := map[string]interface{}{"epoch": uint64(conflict.Conflict.Epoch), "claimants": conflict.Conflict.Claimants}
		response.ErrorWithDetails(w, http.StatusConflict, response.ErrCodeLeadershipAmbiguous, err.Error(), details, requestID)
	case errors.Is(err, cluster.ErrUnknownLog):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, err.Error(), requestID)
	case errors.Is(err, cluster.ErrTrimFailed):
		h.logger.Error("trim failed", "error", err)
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, err.Error(), requestID)
	default:
		h.logger.Error("cluster request failed", "path", r.URL.Path, "error", err)
		response.HandleError(w, err, requestID)
	}
}

func getRequestID(ctx context.Context) string {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return reqID
	}
	return "unknown"
}
