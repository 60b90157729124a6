package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
	"github.com/voltwise/enpi-engine/pkg/services"
)

// SeriesResponse for GET /api/equipment/{eid}/series
type SeriesResponse struct {
	EquipmentID string               `json:"equipment_id"`
	Resolution  string               `json:"resolution"`
	Points      []models.SeriesPoint `json:"points"`
	Total       int                  `json:"total"`
}

// AnalysisHandler serves the daily performance analysis and consumption
// series endpoints.
type AnalysisHandler struct {
	performance services.PerformanceService
	aggregate   repositories.AggregateRepository
	logger      *zap.Logger
}

func NewAnalysisHandler(performance services.PerformanceService, aggregate repositories.AggregateRepository, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{performance: performance, aggregate: aggregate, logger: logger}
}

// RegisterRoutes registers the analysis handler's routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/seus/{name}/analysis", h.Analyze)
	mux.HandleFunc("GET /api/equipment/{eid}/series", h.Series)
}

// Analyze handles GET /api/seus/{name}/analysis?energy_source=...&date=YYYY-MM-DD
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	seuName := r.PathValue("name")
	energySource := r.URL.Query().Get("energy_source")
	if energySource == "" {
		energySource = models.EnergySourceElectricity
	}
	date, ok := parseDate(w, r, "date", h.logger)
	if !ok {
		return
	}

	analysis, err := h.performance.Analyze(r.Context(), seuName, energySource, date)
	if err != nil {
		serviceError(w, h.logger, err, "analysis_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: analysis}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Series handles GET /api/equipment/{eid}/series?resolution=1h&from=...&to=...
func (h *AnalysisHandler) Series(w http.ResponseWriter, r *http.Request) {
	equipmentID, ok := ParseEquipmentID(w, r, h.logger)
	if !ok {
		return
	}

	resolution := models.Resolution(r.URL.Query().Get("resolution"))
	if resolution == "" {
		resolution = models.Resolution1h
	}
	if !resolution.Valid() {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_resolution", "Resolution must be one of 1m, 15m, 1h, 1d"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	from, to, err := parseTimeRange(r, 7*24*time.Hour)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_time_range", "Expected from/to as RFC 3339 or YYYY-MM-DD"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	points, err := h.aggregate.ConsumptionSeries(r.Context(), []uuid.UUID{equipmentID}, resolution, from, to)
	if err != nil {
		serviceError(w, h.logger, err, "series_failed")
		return
	}

	response := SeriesResponse{
		EquipmentID: equipmentID.String(),
		Resolution:  string(resolution),
		Points:      points,
		Total:       len(points),
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
