package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/services"
)

// TrainBaselineRequest for POST /api/baselines/train
type TrainBaselineRequest struct {
	TargetType   string    `json:"target_type"`
	TargetID     uuid.UUID `json:"target_id"`
	EnergySource string    `json:"energy_source,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	// Features lists requested drivers; empty or ["auto"] enables
	// automatic selection.
	Features []string `json:"features,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// TrainBaselineResponse is the 202 body pointing at the created job.
type TrainBaselineResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// BaselineHandler serves baseline training and model retrieval endpoints.
type BaselineHandler struct {
	jobs     services.JobService
	baseline services.BaselineService
	logger   *zap.Logger
}

func NewBaselineHandler(jobs services.JobService, baseline services.BaselineService, logger *zap.Logger) *BaselineHandler {
	return &BaselineHandler{jobs: jobs, baseline: baseline, logger: logger}
}

// RegisterRoutes registers the baseline handler's routes on the given mux.
func (h *BaselineHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/baselines/train", h.Train)
	mux.HandleFunc("GET /api/baselines/{targetType}/{tid}", h.GetModel)
	mux.HandleFunc("GET /api/jobs/{jid}", h.GetJob)
}

// Train handles POST /api/baselines/train. Training runs in the background;
// the response carries the job ID to poll. A second request for the same
// target while one is pending or running gets 409 training_in_progress.
func (h *BaselineHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req TrainBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.TargetType != models.TargetTypeEquipment && req.TargetType != models.TargetTypeSEU {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_target_type", "target_type must be equipment or seu"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !req.To.After(req.From) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_time_range", "to must be after from"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "api_request"
	}
	job, err := h.jobs.EnqueueTraining(r.Context(), services.TrainRequest{
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		EnergySource: req.EnergySource,
		From:         req.From.UTC(),
		To:           req.To.UTC(),
		Features:     req.Features,
	}, reason)
	if err != nil {
		serviceError(w, h.logger, err, "enqueue_training_failed")
		return
	}

	response := TrainBaselineResponse{JobID: job.ID, Status: job.Status}
	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetModel handles GET /api/baselines/{targetType}/{tid}?version=N.
// Without a version it returns the latest.
func (h *BaselineHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	targetType := r.PathValue("targetType")
	targetID, ok := ParseTargetID(w, r, h.logger)
	if !ok {
		return
	}
	version := cast.ToInt(r.URL.Query().Get("version"))

	model, err := h.baseline.GetModel(r.Context(), targetType, targetID, version)
	if err != nil {
		serviceError(w, h.logger, err, "get_model_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetJob handles GET /api/jobs/{jid}.
func (h *BaselineHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		serviceError(w, h.logger, err, "get_job_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: job}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
