package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. pending -> running -> {completed | failed}. The watchdog is
// the only path that terminates a stuck job.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job kinds executed by the background scheduler.
const (
	JobKindBaselineTraining = "baseline_training"
	JobKindAnomalySweep     = "anomaly_sweep"
	JobKindRollupRefresh    = "rollup_refresh"
)

// Job is the persisted state machine for one background run. At most one
// non-terminal job may exist per (kind, target_type, target_id); the store
// enforces this with an atomic check-and-insert, not application locking.
type Job struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	TargetType    string     `json:"target_type"`
	TargetID      uuid.UUID  `json:"target_id"`
	Status        string     `json:"status"`
	TriggerReason string     `json:"trigger_reason"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
