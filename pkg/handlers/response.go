package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
)

// ApiResponse is the standard envelope for successful JSON responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// serviceError maps domain sentinel errors onto HTTP status and error codes.
// Anything unmapped is a 500 with the fallback code.
func serviceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode string) {
	status := http.StatusInternalServerError
	code := fallbackCode

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrNoDataForPeriod):
		status, code = http.StatusNotFound, "no_data_for_period"
	case errors.Is(err, apperrors.ErrUnknownFeature):
		status, code = http.StatusBadRequest, "unknown_feature"
	case errors.Is(err, apperrors.ErrInvalidAggregation):
		status, code = http.StatusBadRequest, "invalid_aggregation"
	case errors.Is(err, apperrors.ErrTrainingInProgress):
		status, code = http.StatusConflict, "training_in_progress"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrInsufficientSamples):
		status, code = http.StatusUnprocessableEntity, "insufficient_samples"
	case errors.Is(err, apperrors.ErrMissingDriverData):
		status, code = http.StatusUnprocessableEntity, "missing_driver_data"
	case errors.Is(err, apperrors.ErrDegenerateFeatures):
		status, code = http.StatusUnprocessableEntity, "degenerate_features"
	case errors.Is(err, apperrors.ErrInsufficientPartialData):
		status, code = http.StatusUnprocessableEntity, "insufficient_partial_data"
	case errors.Is(err, apperrors.ErrNoAggregateTable):
		status, code = http.StatusInternalServerError, "aggregate_table_missing"
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	if writeErr := ErrorResponse(w, status, code, err.Error()); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
