package models

import (
	"time"

	"github.com/google/uuid"
)

// Target types for baselines and jobs. TargetTypeSystem is used by
// fleet-wide background jobs that have no single target.
const (
	TargetTypeEquipment = "equipment"
	TargetTypeSEU       = "seu"
	TargetTypeSystem    = "system"
)

// Quality gate thresholds (ISO 50001-aligned). A model below the acceptable
// floor is still persisted - flagged low-confidence, never silently dropped -
// since a human must decide whether drivers are missing.
const (
	R2QualityThreshold    = 0.80
	R2AcceptableThreshold = 0.70
)

// FitQuality summarizes how well a baseline regression fits its training data.
type FitQuality struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
}

// MeetsQualityThreshold reports whether the fit meets the ISO 50001-aligned
// target.
func (q FitQuality) MeetsQualityThreshold() bool {
	return q.R2 >= R2QualityThreshold
}

// Acceptable reports whether the fit is usable, possibly with a warning flag.
func (q FitQuality) Acceptable() bool {
	return q.R2 >= R2AcceptableThreshold
}

// BaselineModel is a versioned multivariate regression over aggregated
// historical data. Immutable once trained; a new training run creates a new
// version rather than mutating an existing one.
type BaselineModel struct {
	ID            uuid.UUID  `json:"id"`
	TargetType    string     `json:"target_type"`
	TargetID      uuid.UUID  `json:"target_id"`
	EnergySource  string     `json:"energy_source"`
	Version       int        `json:"version"`
	FeatureNames  []string   `json:"feature_names"`
	Coefficients  []float64  `json:"coefficients"`
	Intercept     float64    `json:"intercept"`
	Quality       FitQuality `json:"fit_quality"`
	TrainingFrom  time.Time  `json:"training_from"`
	TrainingTo    time.Time  `json:"training_to"`
	SampleCount   int        `json:"sample_count"`
	Resolution    Resolution `json:"resolution"`
	LowConfidence bool       `json:"low_confidence"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Predict returns the expected consumption for the given driver values:
// intercept + sum(coefficient_i * value_i). Missing drivers contribute zero.
func (m *BaselineModel) Predict(featureValues map[string]float64) float64 {
	expected := m.Intercept
	for i, name := range m.FeatureNames {
		if i >= len(m.Coefficients) {
			break
		}
		expected += m.Coefficients[i] * featureValues[name]
	}
	return expected
}

// Deviation returns the signed percentage difference between actual and
// expected consumption. Positive means over-consumption.
func Deviation(actual, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return (actual - expected) / expected * 100
}
