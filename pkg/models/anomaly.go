package models

import (
	"time"

	"github.com/google/uuid"
)

// Anomaly severity tiers.
const (
	SeverityNormal   = "normal"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Anomaly shape classifications, derived from the sign and rate-of-change of
// the deviation.
const (
	AnomalyTypeSpike   = "spike"
	AnomalyTypeDrop    = "drop"
	AnomalyTypeDrift   = "drift"
	AnomalyTypeUnknown = "unknown"
)

// Anomaly is a flagged interval whose deviation from baseline or rolling
// statistical bounds exceeded a severity threshold. Rows are never deleted
// (audit trail); only the resolved flag and note may change.
type Anomaly struct {
	ID               uuid.UUID `json:"id"`
	EquipmentID      uuid.UUID `json:"equipment_id"`
	DetectedAt       time.Time `json:"detected_at"`
	Metric           string    `json:"metric"`
	ObservedValue    float64   `json:"observed_value"`
	ExpectedValue    float64   `json:"expected_value"`
	DeviationPercent float64   `json:"deviation_percent"`
	Severity         string    `json:"severity"`
	AnomalyType      string    `json:"anomaly_type"`
	Resolved         bool      `json:"resolved"`
	ResolutionNote   *string   `json:"resolution_note,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AnomalyFilters narrows anomaly list queries.
type AnomalyFilters struct {
	EquipmentID *uuid.UUID
	Severity    string
	From        time.Time
	To          time.Time
	Limit       int
}

// SeverityThresholds tunes both detection checks for one sweep.
type SeverityThresholds struct {
	WarningSigma         float64 `json:"warning_sigma"`
	CriticalSigma        float64 `json:"critical_sigma"`
	WarningDeviationPct  float64 `json:"warning_deviation_pct"`
	CriticalDeviationPct float64 `json:"critical_deviation_pct"`
}
