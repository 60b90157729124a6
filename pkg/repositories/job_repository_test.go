//go:build integration

package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/testhelpers"
)

// jobTestContext holds test dependencies for job repository tests.
type jobTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     JobRepository
	targetID uuid.UUID
}

func setupJobTest(t *testing.T) *jobTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &jobTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewJobRepository(engineDB.DB),
		targetID: uuid.New(),
	}
	t.Cleanup(tc.cleanup)
	return tc
}

// cleanup removes the jobs created for this test's target.
func (tc *jobTestContext) cleanup() {
	tc.t.Helper()
	_, _ = tc.engineDB.DB.Exec(context.Background(),
		"DELETE FROM jobs WHERE target_id = $1", tc.targetID)
}

func (tc *jobTestContext) newJob() *models.Job {
	return &models.Job{
		Kind:          models.JobKindBaselineTraining,
		TargetType:    models.TargetTypeSEU,
		TargetID:      tc.targetID,
		TriggerReason: "integration_test",
	}
}

func (tc *jobTestContext) countJobs() int {
	tc.t.Helper()
	var count int
	err := tc.engineDB.DB.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM jobs WHERE target_id = $1", tc.targetID).Scan(&count)
	require.NoError(tc.t, err)
	return count
}

func TestJobRepository_CreateExclusive_SecondActiveRejected(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	first := tc.newJob()
	require.NoError(t, tc.repo.CreateExclusive(ctx, first))
	assert.Equal(t, models.JobStatusPending, first.Status)
	assert.NotEqual(t, uuid.Nil, first.ID)

	dup := tc.newJob()
	require.ErrorIs(t, tc.repo.CreateExclusive(ctx, dup), apperrors.ErrTrainingInProgress)
	assert.Equal(t, 1, tc.countJobs())
}

func TestJobRepository_CreateExclusive_ConcurrentCallersOneWins(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tc.repo.CreateExclusive(ctx, tc.newJob())
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrTrainingInProgress)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, tc.countJobs())
}

func TestJobRepository_CreateExclusive_SlotFreesAfterTerminal(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	first := tc.newJob()
	require.NoError(t, tc.repo.CreateExclusive(ctx, first))
	require.NoError(t, tc.repo.MarkRunning(ctx, first.ID))
	require.ErrorIs(t, tc.repo.CreateExclusive(ctx, tc.newJob()), apperrors.ErrTrainingInProgress)

	require.NoError(t, tc.repo.MarkCompleted(ctx, first.ID))

	second := tc.newJob()
	require.NoError(t, tc.repo.CreateExclusive(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, tc.countJobs())
}

func TestJobRepository_StateTransitions(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	job := tc.newJob()
	require.NoError(t, tc.repo.CreateExclusive(ctx, job))

	// Completion requires running first.
	require.ErrorIs(t, tc.repo.MarkCompleted(ctx, job.ID), apperrors.ErrNotFound)

	require.NoError(t, tc.repo.MarkRunning(ctx, job.ID))
	// A second MarkRunning finds no pending row.
	require.ErrorIs(t, tc.repo.MarkRunning(ctx, job.ID), apperrors.ErrNotFound)

	require.NoError(t, tc.repo.MarkFailed(ctx, job.ID, "sensor outage"))

	got, err := tc.repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "sensor outage", *got.Error)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.EndedAt)
}

func TestJobRepository_FailStale(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	stuck := tc.newJob()
	require.NoError(t, tc.repo.CreateExclusive(ctx, stuck))

	// Backdate the row past the watchdog timeout.
	_, err := tc.engineDB.DB.Exec(ctx,
		"UPDATE jobs SET created_at = now() - interval '1 hour' WHERE id = $1", stuck.ID)
	require.NoError(t, err)

	failed, err := tc.repo.FailStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	got, err := tc.repo.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)

	// The slot is free again.
	require.NoError(t, tc.repo.CreateExclusive(ctx, tc.newJob()))
}
