package models

import (
	"time"

	"github.com/google/uuid"
)

// Reading is an immutable fact from the ingestion pipeline. The Core only
// reads this data; it never writes raw readings.
type Reading struct {
	Time        time.Time          `json:"time"`
	EquipmentID uuid.UUID          `json:"equipment_id"`
	EnergyType  string             `json:"energy_type"`
	Value       float64            `json:"value"`
	Ancillary   map[string]float64 `json:"ancillary_measurements,omitempty"`
}

// Resolution names a fixed rollup bucket width. Each resolution is
// materialized independently from raw readings - never from another rollup.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution15m Resolution = "15m"
	Resolution1h  Resolution = "1h"
	Resolution1d  Resolution = "1d"
)

// BucketWidth returns the bucket duration for the resolution.
func (r Resolution) BucketWidth() time.Duration {
	switch r {
	case Resolution1m:
		return time.Minute
	case Resolution15m:
		return 15 * time.Minute
	case Resolution1h:
		return time.Hour
	case Resolution1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether the resolution is one of the fixed rollup widths.
func (r Resolution) Valid() bool {
	return r.BucketWidth() != 0
}

// SeriesPoint is one bucket of a fetched time series.
type SeriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
}

// AggregateRow is a derived, recomputable rollup of readings for one
// equipment unit over one fixed bucket.
type AggregateRow struct {
	BucketStart time.Time  `json:"bucket_start"`
	EquipmentID uuid.UUID  `json:"equipment_id"`
	Resolution  Resolution `json:"resolution"`
	TotalKWh    float64    `json:"total_kwh"`
	AvgPowerKW  float64    `json:"avg_power_kw"`
	MinPowerKW  float64    `json:"min_power_kw"`
	MaxPowerKW  float64    `json:"max_power_kw"`
	SampleCount int        `json:"sample_count"`
}
