package models

import (
	"time"

	"github.com/google/uuid"
)

// Energy source types. Extending the supported set is a data operation
// (feature registry rows), not a code change; these constants only name the
// sources seeded by default.
const (
	EnergySourceElectricity   = "electricity"
	EnergySourceNaturalGas    = "natural_gas"
	EnergySourceSteam         = "steam"
	EnergySourceCompressedAir = "compressed_air"
)

// EquipmentUnit is a provisioned piece of industrial equipment. Identity is
// immutable; metadata may change after provisioning.
type EquipmentUnit struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"` // compressor, hvac, boiler, ...
	RatedCapacityKW float64   `json:"rated_capacity_kw"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SEU is a Significant Energy User: a named grouping of equipment units
// sharing an energy source, the unit of analysis for performance reporting.
// Member IDs are ordered.
type SEU struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	EnergySource string      `json:"energy_source"`
	EquipmentIDs []uuid.UUID `json:"equipment_ids"`
	CreatedAt    time.Time   `json:"created_at"`
}
