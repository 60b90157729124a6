package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// ParseEquipmentID extracts and validates the equipment ID from the request
// path. Returns the parsed UUID and true on success, or uuid.Nil and false
// on error (after writing an error response).
// Expects path parameter: eid
func ParseEquipmentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "eid", "invalid_equipment_id", "Invalid equipment ID format", logger)
}

// ParseTargetID extracts and validates the baseline target ID from the
// request path.
// Expects path parameter: tid
func ParseTargetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "tid", "invalid_target_id", "Invalid target ID format", logger)
}

// ParseJobID extracts and validates the job ID from the request path.
// Expects path parameter: jid
func ParseJobID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "jid", "invalid_job_id", "Invalid job ID format", logger)
}

// ParseAnomalyID extracts and validates the anomaly ID from the request path.
// Expects path parameter: aid
func ParseAnomalyID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "aid", "invalid_anomaly_id", "Invalid anomaly ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, param, errorCode, message string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, message); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parseDate reads a YYYY-MM-DD query parameter, defaulting to today (UTC)
// when absent. Returns false after writing an error response on bad input.
func parseDate(w http.ResponseWriter, r *http.Request, param string, logger *zap.Logger) (time.Time, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), true
	}
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_date", "Expected "+param+" as YYYY-MM-DD"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return time.Time{}, false
	}
	return date.UTC(), true
}

// parseTimeRange reads from/to query parameters (RFC 3339 or YYYY-MM-DD),
// with a default window ending now.
func parseTimeRange(r *http.Request, defaultWindow time.Duration) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-defaultWindow), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := parseFlexibleTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := parseFlexibleTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}

func parseFlexibleTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	return t.UTC(), err
}

// parseLimit reads a limit query parameter; zero means "use the default".
func parseLimit(r *http.Request) int {
	return cast.ToInt(r.URL.Query().Get("limit"))
}
