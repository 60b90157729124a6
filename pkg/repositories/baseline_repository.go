package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// BaselineRepository persists versioned baseline models. Models are
// immutable: a new training run inserts the next version, superseding (never
// deleting) earlier ones.
type BaselineRepository interface {
	Create(ctx context.Context, model *models.BaselineModel) error
	GetLatest(ctx context.Context, targetType string, targetID uuid.UUID) (*models.BaselineModel, error)
	GetVersion(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error)
}

type baselineRepository struct {
	db *database.DB
}

func NewBaselineRepository(db *database.DB) BaselineRepository {
	return &baselineRepository{db: db}
}

var _ BaselineRepository = (*baselineRepository)(nil)

const baselineColumns = `id, target_type, target_id, energy_source, version, feature_names, coefficients, intercept,
	r2, rmse, mae, training_from, training_to, sample_count, resolution, low_confidence, created_at`

func (r *baselineRepository) Create(ctx context.Context, model *models.BaselineModel) error {
	// Version assignment happens inside the insert so concurrent trainers
	// cannot race to the same version; the unique constraint backs it up.
	err := r.db.QueryRow(ctx, `
		INSERT INTO baseline_models (
			target_type, target_id, energy_source, version, feature_names, coefficients, intercept,
			r2, rmse, mae, training_from, training_to, sample_count, resolution, low_confidence
		)
		SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		FROM baseline_models
		WHERE target_type = $1 AND target_id = $2
		RETURNING id, version, created_at`,
		model.TargetType, model.TargetID, model.EnergySource, model.FeatureNames, model.Coefficients, model.Intercept,
		model.Quality.R2, model.Quality.RMSE, model.Quality.MAE,
		model.TrainingFrom, model.TrainingTo, model.SampleCount, string(model.Resolution), model.LowConfidence,
	).Scan(&model.ID, &model.Version, &model.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create baseline model: %w", err)
	}
	return nil
}

func (r *baselineRepository) GetLatest(ctx context.Context, targetType string, targetID uuid.UUID) (*models.BaselineModel, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM baseline_models
		WHERE target_type = $1 AND target_id = $2
		ORDER BY version DESC
		LIMIT 1`, baselineColumns),
		targetType, targetID)

	return scanBaseline(row)
}

func (r *baselineRepository) GetVersion(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM baseline_models
		WHERE target_type = $1 AND target_id = $2 AND version = $3`, baselineColumns),
		targetType, targetID, version)

	return scanBaseline(row)
}

func scanBaseline(row pgx.Row) (*models.BaselineModel, error) {
	model := &models.BaselineModel{}
	var resolution string
	err := row.Scan(
		&model.ID, &model.TargetType, &model.TargetID, &model.EnergySource, &model.Version,
		&model.FeatureNames, &model.Coefficients, &model.Intercept,
		&model.Quality.R2, &model.Quality.RMSE, &model.Quality.MAE,
		&model.TrainingFrom, &model.TrainingTo, &model.SampleCount,
		&resolution, &model.LowConfidence, &model.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan baseline model: %w", err)
	}
	model.Resolution = models.Resolution(resolution)
	return model, nil
}
