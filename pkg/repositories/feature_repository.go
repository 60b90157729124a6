package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// FeatureRepository provides data access for the FeatureDefinition registry.
type FeatureRepository interface {
	Upsert(ctx context.Context, def *models.FeatureDefinition) error
	Get(ctx context.Context, energySource, featureName string) (*models.FeatureDefinition, error)
	ListBySource(ctx context.Context, energySource string) ([]*models.FeatureDefinition, error)
	List(ctx context.Context) ([]*models.FeatureDefinition, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type featureRepository struct {
	db *database.DB
}

func NewFeatureRepository(db *database.DB) FeatureRepository {
	return &featureRepository{db: db}
}

var _ FeatureRepository = (*featureRepository)(nil)

// identPattern bounds table/column names since they are interpolated into
// query-plan SQL.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validateDefinition(def *models.FeatureDefinition) error {
	if !models.ValidAggregation(def.AggregationFn) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidAggregation, def.AggregationFn)
	}
	if !identPattern.MatchString(def.SourceTable) || !identPattern.MatchString(def.SourceColumn) {
		return fmt.Errorf("invalid source identifier %q.%q", def.SourceTable, def.SourceColumn)
	}
	if def.EnergySource == "" || def.FeatureName == "" {
		return errors.New("energy_source and feature_name are required")
	}
	return nil
}

func (r *featureRepository) Upsert(ctx context.Context, def *models.FeatureDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO feature_definitions (energy_source, feature_name, source_table, source_column, aggregation_fn, per_equipment)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (energy_source, feature_name) DO UPDATE SET
		    source_table = EXCLUDED.source_table,
		    source_column = EXCLUDED.source_column,
		    aggregation_fn = EXCLUDED.aggregation_fn,
		    per_equipment = EXCLUDED.per_equipment
		RETURNING id, created_at`,
		def.EnergySource, def.FeatureName, def.SourceTable, def.SourceColumn, def.AggregationFn, def.PerEquipment,
	).Scan(&def.ID, &def.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert feature definition: %w", err)
	}
	return nil
}

func (r *featureRepository) Get(ctx context.Context, energySource, featureName string) (*models.FeatureDefinition, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, energy_source, feature_name, source_table, source_column, aggregation_fn, per_equipment, created_at
		FROM feature_definitions
		WHERE energy_source = $1 AND feature_name = $2`,
		energySource, featureName)

	def, err := scanFeature(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q for %s", apperrors.ErrUnknownFeature, featureName, energySource)
		}
		return nil, fmt.Errorf("failed to get feature definition: %w", err)
	}
	return def, nil
}

func (r *featureRepository) ListBySource(ctx context.Context, energySource string) ([]*models.FeatureDefinition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, energy_source, feature_name, source_table, source_column, aggregation_fn, per_equipment, created_at
		FROM feature_definitions
		WHERE energy_source = $1
		ORDER BY feature_name`, energySource)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature definitions: %w", err)
	}
	defer rows.Close()

	return collectFeatures(rows)
}

func (r *featureRepository) List(ctx context.Context) ([]*models.FeatureDefinition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, energy_source, feature_name, source_table, source_column, aggregation_fn, per_equipment, created_at
		FROM feature_definitions
		ORDER BY energy_source, feature_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature definitions: %w", err)
	}
	defer rows.Close()

	return collectFeatures(rows)
}

func (r *featureRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM feature_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feature definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

type featureRow interface {
	Scan(dest ...any) error
}

func scanFeature(row featureRow) (*models.FeatureDefinition, error) {
	def := &models.FeatureDefinition{}
	err := row.Scan(
		&def.ID, &def.EnergySource, &def.FeatureName, &def.SourceTable,
		&def.SourceColumn, &def.AggregationFn, &def.PerEquipment, &def.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return def, nil
}

func collectFeatures(rows pgx.Rows) ([]*models.FeatureDefinition, error) {
	var defs []*models.FeatureDefinition
	for rows.Next() {
		def, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature definitions: %w", err)
	}
	return defs, nil
}
