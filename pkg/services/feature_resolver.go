package services

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
)

// FeatureResolver maps requested driver names to the physical
// table/column/aggregation needed to compute them for a given energy source.
// New equipment or energy types are supported by registering
// FeatureDefinition rows - a data operation, never a code change.
type FeatureResolver interface {
	// Resolve builds a query plan for the requested features. Fails with
	// ErrUnknownFeature when a name has no registry entry for the source and
	// ErrNoAggregateTable when a referenced table is not provisioned.
	Resolve(ctx context.Context, energySource string, featureNames []string) (*models.QueryPlan, error)
	// Candidates returns all registered feature names for an energy source,
	// the superset tried by auto-select training.
	Candidates(ctx context.Context, energySource string) ([]string, error)
	// SeedFromFile upserts registry rows from a YAML file. Missing file is
	// not an error; the registry API covers runtime changes.
	SeedFromFile(ctx context.Context, path string) error
}

type featureResolver struct {
	features  repositories.FeatureRepository
	aggregate repositories.AggregateRepository
	logger    *zap.Logger
}

func NewFeatureResolver(features repositories.FeatureRepository, aggregate repositories.AggregateRepository, logger *zap.Logger) FeatureResolver {
	return &featureResolver{
		features:  features,
		aggregate: aggregate,
		logger:    logger.Named("feature-resolver"),
	}
}

var _ FeatureResolver = (*featureResolver)(nil)

func (r *featureResolver) Resolve(ctx context.Context, energySource string, featureNames []string) (*models.QueryPlan, error) {
	plan := &models.QueryPlan{EnergySource: energySource}

	for _, name := range featureNames {
		def, err := r.features.Get(ctx, energySource, name)
		if err != nil {
			return nil, err
		}

		exists, err := r.aggregate.TableExists(ctx, def.SourceTable)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s (feature %q)", apperrors.ErrNoAggregateTable, def.SourceTable, name)
		}

		plan.Features = append(plan.Features, models.FeaturePlan{
			FeatureName:   def.FeatureName,
			SourceTable:   def.SourceTable,
			SourceColumn:  def.SourceColumn,
			AggregationFn: def.AggregationFn,
			PerEquipment:  def.PerEquipment,
		})
	}

	return plan, nil
}

func (r *featureResolver) Candidates(ctx context.Context, energySource string) ([]string, error) {
	defs, err := r.features.ListBySource(ctx, energySource)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.FeatureName)
	}
	return names, nil
}

func (r *featureResolver) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("no feature registry seed file, skipping", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to read feature registry %s: %w", path, err)
	}

	var seed struct {
		Features []models.FeatureDefinition `yaml:"features"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse feature registry %s: %w", path, err)
	}

	for i := range seed.Features {
		def := seed.Features[i]
		if err := r.features.Upsert(ctx, &def); err != nil {
			return fmt.Errorf("failed to seed feature %q/%q: %w", def.EnergySource, def.FeatureName, err)
		}
	}

	r.logger.Info("feature registry seeded",
		zap.String("path", path),
		zap.Int("features", len(seed.Features)))
	return nil
}
