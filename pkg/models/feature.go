package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregation function whitelist. Anything outside this set is rejected at
// registration time since table/column/fn names are interpolated into SQL.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
)

// ValidAggregation reports whether fn is in the whitelist.
func ValidAggregation(fn string) bool {
	switch fn {
	case AggSum, AggAvg, AggMin, AggMax, AggCount:
		return true
	}
	return false
}

// FeatureDefinition is a registry entry describing how to compute a named
// driver (e.g. "outdoor_temp") from the time-series store for one energy
// source. Created and updated by configuration, not code: supporting a new
// equipment or energy type means inserting rows, never branching.
type FeatureDefinition struct {
	ID            uuid.UUID `json:"id" yaml:"-"`
	EnergySource  string    `json:"energy_source" yaml:"energy_source"`
	FeatureName   string    `json:"feature_name" yaml:"feature_name"`
	SourceTable   string    `json:"source_table" yaml:"source_table"`
	SourceColumn  string    `json:"source_column" yaml:"source_column"`
	AggregationFn string    `json:"aggregation_fn" yaml:"aggregation_fn"`
	PerEquipment  bool      `json:"per_equipment" yaml:"per_equipment"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// FeaturePlan is one resolved step of a query plan: how to compute one named
// driver series from its source table.
type FeaturePlan struct {
	FeatureName   string
	SourceTable   string
	SourceColumn  string
	AggregationFn string
	PerEquipment  bool
}

// QueryPlan is the full resolution of (energy_source, feature_names) into
// executable per-feature fetches.
type QueryPlan struct {
	EnergySource string
	Features     []FeaturePlan
}
