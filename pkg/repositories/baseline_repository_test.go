//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/testhelpers"
)

func setupBaselineTest(t *testing.T) (BaselineRepository, uuid.UUID) {
	engineDB := testhelpers.GetEngineDB(t)
	targetID := uuid.New()
	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(),
			"DELETE FROM baseline_models WHERE target_id = $1", targetID)
	})
	return NewBaselineRepository(engineDB.DB), targetID
}

func testBaselineModel(targetID uuid.UUID) *models.BaselineModel {
	return &models.BaselineModel{
		TargetType:   models.TargetTypeSEU,
		TargetID:     targetID,
		EnergySource: models.EnergySourceNaturalGas,
		FeatureNames: []string{"heating_degree_hours", "production_units"},
		Coefficients: []float64{1.8, 0.4},
		Intercept:    42.5,
		Quality:      models.FitQuality{R2: 0.91, RMSE: 3.2, MAE: 2.4},
		TrainingFrom: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		TrainingTo:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		SampleCount:  2208,
		Resolution:   models.Resolution1h,
	}
}

func TestBaselineRepository_RoundTrip(t *testing.T) {
	repo, targetID := setupBaselineTest(t)
	ctx := context.Background()

	model := testBaselineModel(targetID)
	require.NoError(t, repo.Create(ctx, model))
	assert.Equal(t, 1, model.Version)

	got, err := repo.GetLatest(ctx, models.TargetTypeSEU, targetID)
	require.NoError(t, err)
	assert.Equal(t, model.ID, got.ID)
	assert.Equal(t, models.EnergySourceNaturalGas, got.EnergySource)
	assert.Equal(t, model.FeatureNames, got.FeatureNames)
	assert.InDelta(t, 42.5, got.Intercept, 1e-9)
	assert.InDelta(t, 0.91, got.Quality.R2, 1e-9)
	assert.Equal(t, models.Resolution1h, got.Resolution)
	assert.False(t, got.LowConfidence)
}

func TestBaselineRepository_VersionsAssignedInDatabase(t *testing.T) {
	repo, targetID := setupBaselineTest(t)
	ctx := context.Background()

	first := testBaselineModel(targetID)
	require.NoError(t, repo.Create(ctx, first))
	second := testBaselineModel(targetID)
	require.NoError(t, repo.Create(ctx, second))

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	latest, err := repo.GetLatest(ctx, models.TargetTypeSEU, targetID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	v1, err := repo.GetVersion(ctx, models.TargetTypeSEU, targetID, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, v1.ID)
}

func TestBaselineRepository_GetLatest_NotFound(t *testing.T) {
	repo, _ := setupBaselineTest(t)

	_, err := repo.GetLatest(context.Background(), models.TargetTypeSEU, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
