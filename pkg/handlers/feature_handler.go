package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
)

// FeatureListResponse for GET /api/features
type FeatureListResponse struct {
	Features []*models.FeatureDefinition `json:"features"`
	Total    int                         `json:"total"`
}

// UpsertFeatureRequest for PUT /api/features
type UpsertFeatureRequest struct {
	EnergySource  string `json:"energy_source"`
	FeatureName   string `json:"feature_name"`
	SourceTable   string `json:"source_table"`
	SourceColumn  string `json:"source_column"`
	AggregationFn string `json:"aggregation_fn"`
	PerEquipment  bool   `json:"per_equipment"`
}

// FeatureHandler serves the feature registry CRUD endpoints. Supporting a
// new driver is a registry write, not a code change.
type FeatureHandler struct {
	features repositories.FeatureRepository
	logger   *zap.Logger
}

func NewFeatureHandler(features repositories.FeatureRepository, logger *zap.Logger) *FeatureHandler {
	return &FeatureHandler{features: features, logger: logger}
}

// RegisterRoutes registers the feature handler's routes on the given mux.
func (h *FeatureHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/features", h.List)
	mux.HandleFunc("PUT /api/features", h.Upsert)
	mux.HandleFunc("GET /api/features/{source}/{name}", h.Get)
	mux.HandleFunc("DELETE /api/features/{source}/{name}", h.Delete)
}

// List handles GET /api/features?energy_source=...
func (h *FeatureHandler) List(w http.ResponseWriter, r *http.Request) {
	var features []*models.FeatureDefinition
	var err error
	if source := r.URL.Query().Get("energy_source"); source != "" {
		features, err = h.features.ListBySource(r.Context(), source)
	} else {
		features, err = h.features.List(r.Context())
	}
	if err != nil {
		serviceError(w, h.logger, err, "list_features_failed")
		return
	}

	response := FeatureListResponse{Features: features, Total: len(features)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Upsert handles PUT /api/features.
func (h *FeatureHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.EnergySource == "" || req.FeatureName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "energy_source and feature_name are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	def := &models.FeatureDefinition{
		EnergySource:  req.EnergySource,
		FeatureName:   req.FeatureName,
		SourceTable:   req.SourceTable,
		SourceColumn:  req.SourceColumn,
		AggregationFn: req.AggregationFn,
		PerEquipment:  req.PerEquipment,
	}
	if err := h.features.Upsert(r.Context(), def); err != nil {
		serviceError(w, h.logger, err, "upsert_feature_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: def}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/features/{source}/{name}.
func (h *FeatureHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.features.Get(r.Context(), r.PathValue("source"), r.PathValue("name"))
	if err != nil {
		serviceError(w, h.logger, err, "get_feature_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: def}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/features/{source}/{name}.
func (h *FeatureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	def, err := h.features.Get(r.Context(), r.PathValue("source"), r.PathValue("name"))
	if err != nil {
		serviceError(w, h.logger, err, "delete_feature_failed")
		return
	}
	if err := h.features.Delete(r.Context(), def.ID); err != nil {
		serviceError(w, h.logger, err, "delete_feature_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "feature deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
