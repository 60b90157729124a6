package models

import "time"

// Root-cause classifications from the deviation sign/magnitude rules.
const (
	RootCauseHighDemand      = "high_demand"
	RootCauseReducedLoad     = "reduced_load"
	RootCauseNormalOperation = "normal_operation"
	RootCauseProcessChange   = "process_change"
	RootCauseUnknown         = "unknown"
)

// ISO-alignment compliance statuses.
const (
	ComplianceExcellent         = "excellent"
	ComplianceOnTarget          = "on_target"
	ComplianceRequiresAttention = "requires_attention"
	ComplianceNonCompliant      = "non_compliant"
	ComplianceUnknown           = "unknown"
)

// Baseline sources for an analysis.
const (
	BaselineSourceRegression     = "regression"
	BaselineSourceRollingAverage = "rolling_average"
	BaselineSourceUnknown        = "unknown"
)

// RootCause is the rule-based classification of a deviation with a
// confidence that is reduced when the actuals were projected from a
// partial day.
type RootCause struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
}

// Recommendation is one actionable entry produced when the deviation exceeds
// the actionability threshold.
type Recommendation struct {
	Action           string  `json:"action"`
	EstimatedSavings float64 `json:"estimated_savings"`
	Effort           string  `json:"effort"`   // low, medium, high
	Priority         string  `json:"priority"` // low, medium, high
	ExpectedPayback  string  `json:"expected_payback"`
}

// PerformanceAnalysis is the composite result of one analyze call. It is
// transient: recomputed on demand from readings, the latest baseline and
// recent anomalies, never stored as a separate source of truth.
type PerformanceAnalysis struct {
	SEUName      string    `json:"seu_name"`
	EnergySource string    `json:"energy_source"`
	Date         time.Time `json:"date"`

	HoursElapsed float64 `json:"hours_elapsed"`
	IsProjection bool    `json:"is_projection"`
	// RawKWh is the consumption actually observed; ActualKWh is the
	// full-day-equivalent used against the baseline (equal to RawKWh for a
	// complete day).
	RawKWh    float64 `json:"raw_kwh"`
	ActualKWh float64 `json:"actual_kwh"`

	BaselineKWh    *float64 `json:"baseline_kwh,omitempty"`
	BaselineSource string   `json:"baseline_source"`
	ModelVersion   *int     `json:"model_version,omitempty"`
	LowConfidence  bool     `json:"low_confidence_model"`

	DeviationKWh     *float64 `json:"deviation_kwh,omitempty"`
	DeviationPercent *float64 `json:"deviation_percent,omitempty"`
	CostDeviation    *float64 `json:"cost_deviation,omitempty"`

	EfficiencyScore  float64          `json:"efficiency_score"`
	RootCause        RootCause        `json:"root_cause"`
	Recommendations  []Recommendation `json:"recommendations"`
	ComplianceStatus string           `json:"compliance_status"`
	Anomalies        []Anomaly        `json:"anomalies"`
	Summary          string           `json:"summary"`

	GeneratedAt time.Time `json:"generated_at"`
}
