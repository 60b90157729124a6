package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
)

// AutoSelectFeatures is the sentinel feature list entry requesting
// automatic driver selection.
const AutoSelectFeatures = "auto"

// TrainRequest describes one baseline training run.
type TrainRequest struct {
	TargetType   string
	TargetID     uuid.UUID
	EnergySource string // derived from the SEU for SEU targets
	From         time.Time
	To           time.Time
	// Features is the requested driver list, or ["auto"] / empty for
	// auto-select.
	Features []string
}

// Auto reports whether the request asks for automatic feature selection.
func (r TrainRequest) Auto() bool {
	return len(r.Features) == 0 || (len(r.Features) == 1 && r.Features[0] == AutoSelectFeatures)
}

// BaselineService trains, persists and serves versioned baseline models.
type BaselineService interface {
	Train(ctx context.Context, req TrainRequest) (*models.BaselineModel, error)
	// GetModel returns the latest version, or a specific one when version > 0.
	GetModel(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error)
}

type baselineService struct {
	baselines repositories.BaselineRepository
	aggregate repositories.AggregateRepository
	equipment repositories.EquipmentRepository
	resolver  FeatureResolver
	cfg       config.TrainingConfig
	logger    *zap.Logger
}

func NewBaselineService(
	baselines repositories.BaselineRepository,
	aggregate repositories.AggregateRepository,
	equipment repositories.EquipmentRepository,
	resolver FeatureResolver,
	cfg config.TrainingConfig,
	logger *zap.Logger,
) BaselineService {
	return &baselineService{
		baselines: baselines,
		aggregate: aggregate,
		equipment: equipment,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger.Named("baseline"),
	}
}

var _ BaselineService = (*baselineService)(nil)

// resolutionForWindow picks the finest rollup that keeps the row count
// workable for the window: never a coarser one than needed, since coarser
// buckets shrink the sample count for the same window.
func resolutionForWindow(from, to time.Time) models.Resolution {
	window := to.Sub(from)
	switch {
	case window <= 3*24*time.Hour:
		return models.Resolution15m
	case window <= 90*24*time.Hour:
		return models.Resolution1h
	default:
		return models.Resolution1d
	}
}

func (s *baselineService) Train(ctx context.Context, req TrainRequest) (*models.BaselineModel, error) {
	equipmentIDs, energySource, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	res := resolutionForWindow(req.From, req.To)

	consumption, err := s.aggregate.ConsumptionSeries(ctx, equipmentIDs, res, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption series: %w", err)
	}
	if len(consumption) < s.cfg.MinSamples {
		return nil, fmt.Errorf("%w: have %d buckets at %s, need %d",
			apperrors.ErrInsufficientSamples, len(consumption), res, s.cfg.MinSamples)
	}

	var model *models.BaselineModel
	if req.Auto() {
		model, err = s.trainAutoSelect(ctx, equipmentIDs, energySource, res, req, consumption)
	} else {
		model, err = s.trainExplicit(ctx, equipmentIDs, energySource, res, req, consumption)
	}
	if err != nil {
		return nil, err
	}

	model.TargetType = req.TargetType
	model.TargetID = req.TargetID
	model.EnergySource = energySource
	model.TrainingFrom = req.From
	model.TrainingTo = req.To
	model.Resolution = res
	model.LowConfidence = !model.Quality.Acceptable()

	// A poor fit is persisted anyway: a human must decide whether drivers
	// are missing, so the model is flagged, never silently discarded.
	if err := s.baselines.Create(ctx, model); err != nil {
		return nil, err
	}

	s.logger.Info("baseline trained",
		zap.String("target_type", model.TargetType),
		zap.String("target_id", model.TargetID.String()),
		zap.Int("version", model.Version),
		zap.Strings("features", model.FeatureNames),
		zap.Int("samples", model.SampleCount),
		zap.Float64("r2", model.Quality.R2),
		zap.Bool("low_confidence", model.LowConfidence))

	return model, nil
}

func (s *baselineService) trainExplicit(ctx context.Context, equipmentIDs []uuid.UUID, energySource string, res models.Resolution, req TrainRequest, consumption []models.SeriesPoint) (*models.BaselineModel, error) {
	plan, err := s.resolver.Resolve(ctx, energySource, req.Features)
	if err != nil {
		return nil, err
	}

	series := make(map[string]map[time.Time]float64, len(plan.Features))
	for _, feature := range plan.Features {
		values, err := s.aggregate.FeatureSeries(ctx, feature, equipmentIDs, res, req.From, req.To)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrMissingDriverData, feature.FeatureName)
		}
		series[feature.FeatureName] = values
	}

	return s.fitSubset(req.Features, series, consumption)
}

func (s *baselineService) trainAutoSelect(ctx context.Context, equipmentIDs []uuid.UUID, energySource string, res models.Resolution, req TrainRequest, consumption []models.SeriesPoint) (*models.BaselineModel, error) {
	candidates, err := s.resolver.Candidates(ctx, energySource)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no features registered for %s", apperrors.ErrUnknownFeature, energySource)
	}

	plan, err := s.resolver.Resolve(ctx, energySource, candidates)
	if err != nil {
		return nil, err
	}

	// Load every candidate once; candidates without data in range are
	// skipped rather than failing the run.
	series := make(map[string]map[time.Time]float64)
	var usable []string
	for _, feature := range plan.Features {
		values, err := s.aggregate.FeatureSeries(ctx, feature, equipmentIDs, res, req.From, req.To)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			s.logger.Warn("auto-select skipping driver with no data in range",
				zap.String("feature", feature.FeatureName))
			continue
		}
		series[feature.FeatureName] = values
		usable = append(usable, feature.FeatureName)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no candidate driver has data in range", apperrors.ErrMissingDriverData)
	}

	// Greedy forward selection on adjusted R², capped at MaxAutoFeatures.
	var selected []string
	var best *models.BaselineModel
	bestScore := 0.0

	for len(selected) < s.cfg.MaxAutoFeatures {
		var roundBest *models.BaselineModel
		var roundFeature string
		roundScore := bestScore

		for _, candidate := range usable {
			if contains(selected, candidate) {
				continue
			}
			trial := append(append([]string{}, selected...), candidate)
			model, err := s.fitSubset(trial, series, consumption)
			if err != nil {
				// Degenerate subsets (collinear drivers) are dropped in
				// auto mode rather than failing the run.
				continue
			}
			score := adjustedR2(model.Quality.R2, model.SampleCount, len(trial))
			if score > roundScore {
				roundScore = score
				roundBest = model
				roundFeature = candidate
			}
		}

		if roundBest == nil {
			break
		}
		selected = append(selected, roundFeature)
		best = roundBest
		bestScore = roundScore
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no driver subset produced a usable fit", apperrors.ErrDegenerateFeatures)
	}
	return best, nil
}

// fitSubset aligns the consumption series with the chosen drivers (a bucket
// is used only when every driver has a value for it) and fits OLS.
func (s *baselineService) fitSubset(features []string, series map[string]map[time.Time]float64, consumption []models.SeriesPoint) (*models.BaselineModel, error) {
	var x [][]float64
	var y []float64

	for _, point := range consumption {
		row := make([]float64, len(features))
		complete := true
		for i, name := range features {
			value, ok := series[name][point.Bucket]
			if !ok {
				complete = false
				break
			}
			row[i] = value
		}
		if !complete {
			continue
		}
		x = append(x, row)
		y = append(y, point.Value)
	}

	if len(y) < s.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d aligned buckets, need %d",
			apperrors.ErrInsufficientSamples, len(y), s.cfg.MinSamples)
	}

	coefficients, intercept, err := fitOLS(x, y)
	if err != nil {
		return nil, err
	}

	model := &models.BaselineModel{
		FeatureNames: append([]string{}, features...),
		Coefficients: coefficients,
		Intercept:    intercept,
		SampleCount:  len(y),
	}

	predicted := make([]float64, len(y))
	values := make(map[string]float64, len(features))
	for i, row := range x {
		for j, name := range features {
			values[name] = row[j]
		}
		predicted[i] = model.Predict(values)
	}
	model.Quality = fitQuality(predicted, y)

	return model, nil
}

func (s *baselineService) GetModel(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error) {
	if version > 0 {
		return s.baselines.GetVersion(ctx, targetType, targetID, version)
	}
	return s.baselines.GetLatest(ctx, targetType, targetID)
}

// resolveTarget maps the training target onto equipment units and an energy
// source. SEU targets carry their own source; equipment targets default to
// electricity unless the request names one.
func (s *baselineService) resolveTarget(ctx context.Context, req TrainRequest) ([]uuid.UUID, string, error) {
	switch req.TargetType {
	case models.TargetTypeSEU:
		seu, err := s.equipment.GetSEUByID(ctx, req.TargetID)
		if err != nil {
			return nil, "", err
		}
		if len(seu.EquipmentIDs) == 0 {
			return nil, "", fmt.Errorf("%w: SEU %s has no member equipment", apperrors.ErrNoDataForPeriod, seu.Name)
		}
		return seu.EquipmentIDs, seu.EnergySource, nil
	case models.TargetTypeEquipment:
		if _, err := s.equipment.GetEquipment(ctx, req.TargetID); err != nil {
			return nil, "", err
		}
		source := req.EnergySource
		if source == "" {
			source = models.EnergySourceElectricity
		}
		return []uuid.UUID{req.TargetID}, source, nil
	default:
		return nil, "", fmt.Errorf("unknown target type %q", req.TargetType)
	}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
