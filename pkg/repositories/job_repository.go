package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// JobRepository persists the background job state machine. The database is
// the single source of truth for "is a job active": workers in other
// processes cannot see this process's memory, so the one-non-terminal-job
// rule is enforced by an atomic check-and-insert against the partial unique
// index, never by application locking.
type JobRepository interface {
	// CreateExclusive inserts a pending job unless a non-terminal job already
	// exists for the same (kind, target); then it returns ErrTrainingInProgress
	// and no second row is created.
	CreateExclusive(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// FailStale force-fails pending/running jobs older than timeout. This is
	// the watchdog path: an executor that never transitions state must not
	// block new requests forever.
	FailStale(ctx context.Context, timeout time.Duration) (int64, error)
}

type jobRepository struct {
	db *database.DB
}

func NewJobRepository(db *database.DB) JobRepository {
	return &jobRepository{db: db}
}

var _ JobRepository = (*jobRepository)(nil)

func (r *jobRepository) CreateExclusive(ctx context.Context, job *models.Job) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO jobs (kind, target_type, target_id, status, trigger_reason)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (kind, target_type, target_id) WHERE status IN ('pending', 'running')
		DO NOTHING
		RETURNING id, status, created_at`,
		job.Kind, job.TargetType, job.TargetID, job.TriggerReason,
	).Scan(&job.ID, &job.Status, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The insert was skipped: a non-terminal job holds the slot.
			return apperrors.ErrTrainingInProgress
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, kind, target_type, target_id, status, trigger_reason, error, created_at, started_at, ended_at
		FROM jobs
		WHERE id = $1`, id)

	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.Kind, &job.TargetType, &job.TargetID, &job.Status,
		&job.TriggerReason, &job.Error, &job.CreatedAt, &job.StartedAt, &job.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = 'running', started_at = now() WHERE id = $1 AND status = 'pending'`)
}

func (r *jobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = 'completed', ended_at = now() WHERE id = $1 AND status = 'running'`)
}

func (r *jobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, ended_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *jobRepository) FailStale(ctx context.Context, timeout time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error = 'timed out by watchdog', ended_at = now()
		WHERE status IN ('pending', 'running') AND created_at < now() - $1::interval`,
		fmt.Sprintf("%f seconds", timeout.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *jobRepository) transition(ctx context.Context, id uuid.UUID, query string) error {
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
