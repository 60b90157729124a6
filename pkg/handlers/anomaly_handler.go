package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/services"
)

// AnomalyListResponse for GET /api/anomalies
type AnomalyListResponse struct {
	Anomalies []*models.Anomaly `json:"anomalies"`
	Total     int               `json:"total"`
}

// ResolveAnomalyRequest for POST /api/anomalies/{aid}/resolve
type ResolveAnomalyRequest struct {
	Note string `json:"note"`
}

// DetectAnomaliesRequest for POST /api/anomalies/detect. Thresholds is
// optional; when omitted the configured defaults apply.
type DetectAnomaliesRequest struct {
	EquipmentID uuid.UUID                  `json:"equipment_id"`
	From        time.Time                  `json:"from"`
	To          time.Time                  `json:"to"`
	Thresholds  *models.SeverityThresholds `json:"thresholds,omitempty"`
}

// AnomalyHandler serves anomaly listing and resolution endpoints.
type AnomalyHandler struct {
	detector services.AnomalyDetector
	logger   *zap.Logger
}

func NewAnomalyHandler(detector services.AnomalyDetector, logger *zap.Logger) *AnomalyHandler {
	return &AnomalyHandler{detector: detector, logger: logger}
}

// RegisterRoutes registers the anomaly handler's routes on the given mux.
func (h *AnomalyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/anomalies", h.List)
	mux.HandleFunc("POST /api/anomalies/detect", h.Detect)
	mux.HandleFunc("POST /api/anomalies/{aid}/resolve", h.Resolve)
}

// Detect handles POST /api/anomalies/detect. It runs a synchronous detection
// pass over the requested window and returns the anomalies found.
func (h *AnomalyHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectAnomaliesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.EquipmentID == uuid.Nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_equipment_id", "equipment_id is required"); err != nil {
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

	var (
		anomalies []*models.Anomaly
		err       error
	)
	if req.Thresholds != nil {
		anomalies, err = h.detector.DetectWithThresholds(r.Context(), req.EquipmentID, req.From.UTC(), req.To.UTC(), *req.Thresholds)
	} else {
		anomalies, err = h.detector.DetectForEquipment(r.Context(), req.EquipmentID, req.From.UTC(), req.To.UTC())
	}
	if err != nil {
		serviceError(w, h.logger, err, "detect_anomalies_failed")
		return
	}

	response := AnomalyListResponse{Anomalies: anomalies, Total: len(anomalies)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/anomalies?equipment_id=&severity=&from=&to=&limit=
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := models.AnomalyFilters{
		Severity: r.URL.Query().Get("severity"),
		Limit:    parseLimit(r),
	}

	if raw := r.URL.Query().Get("equipment_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_equipment_id", "Invalid equipment ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		filters.EquipmentID = &id
	}

	from, to, err := parseTimeRange(r, 7*24*time.Hour)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_time_range", "Expected from/to as RFC 3339 or YYYY-MM-DD"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	filters.From, filters.To = from, to

	anomalies, err := h.detector.ListRecent(r.Context(), filters)
	if err != nil {
		serviceError(w, h.logger, err, "list_anomalies_failed")
		return
	}

	response := AnomalyListResponse{Anomalies: anomalies, Total: len(anomalies)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Resolve handles POST /api/anomalies/{aid}/resolve.
func (h *AnomalyHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	anomalyID, ok := ParseAnomalyID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.detector.Resolve(r.Context(), anomalyID, req.Note); err != nil {
		serviceError(w, h.logger, err, "resolve_anomaly_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "anomaly resolved"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
