package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/events"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
)

// driftRunLength is how many consecutive same-sign flagged buckets turn
// individual spikes/drops into a drift classification.
const driftRunLength = 3

// AnomalyDetector runs statistical and model-deviation checks over hourly
// consumption and records flagged intervals.
type AnomalyDetector interface {
	// DetectForEquipment sweeps one unit over [from, to) and returns the
	// anomalies found, already persisted. Re-running the same window is
	// idempotent: matching rows are updated in place.
	DetectForEquipment(ctx context.Context, equipmentID uuid.UUID, from, to time.Time) ([]*models.Anomaly, error)
	// DetectWithThresholds is DetectForEquipment with per-call severity
	// thresholds instead of the configured defaults.
	DetectWithThresholds(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, th models.SeverityThresholds) ([]*models.Anomaly, error)
	// Sweep runs DetectForEquipment over every registered unit.
	Sweep(ctx context.Context, from, to time.Time) (int, error)
	ListRecent(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error)
	Resolve(ctx context.Context, id uuid.UUID, note string) error
}

type anomalyDetector struct {
	anomalies repositories.AnomalyRepository
	aggregate repositories.AggregateRepository
	baselines repositories.BaselineRepository
	equipment repositories.EquipmentRepository
	resolver  FeatureResolver
	bus       *events.Bus
	cfg       config.DetectionConfig
	logger    *zap.Logger
}

func NewAnomalyDetector(
	anomalies repositories.AnomalyRepository,
	aggregate repositories.AggregateRepository,
	baselines repositories.BaselineRepository,
	equipment repositories.EquipmentRepository,
	resolver FeatureResolver,
	bus *events.Bus,
	cfg config.DetectionConfig,
	logger *zap.Logger,
) AnomalyDetector {
	return &anomalyDetector{
		anomalies: anomalies,
		aggregate: aggregate,
		baselines: baselines,
		equipment: equipment,
		resolver:  resolver,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.Named("anomaly_detector"),
	}
}

var _ AnomalyDetector = (*anomalyDetector)(nil)

func (d *anomalyDetector) thresholds() models.SeverityThresholds {
	return models.SeverityThresholds{
		WarningSigma:         d.cfg.WarningSigma,
		CriticalSigma:        d.cfg.CriticalSigma,
		WarningDeviationPct:  d.cfg.WarningDeviationPct,
		CriticalDeviationPct: d.cfg.CriticalDeviationPct,
	}
}

func (d *anomalyDetector) DetectForEquipment(ctx context.Context, equipmentID uuid.UUID, from, to time.Time) ([]*models.Anomaly, error) {
	return d.DetectWithThresholds(ctx, equipmentID, from, to, d.thresholds())
}

func (d *anomalyDetector) DetectWithThresholds(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, th models.SeverityThresholds) ([]*models.Anomaly, error) {
	// Pull extra history in front of the window so the first buckets have a
	// full rolling context.
	warmup := time.Duration(d.cfg.RollingWindow) * time.Hour
	series, err := d.aggregate.ConsumptionSeries(ctx, []uuid.UUID{equipmentID}, models.Resolution1h, from.Add(-warmup), to)
	if err != nil {
		return nil, fmt.Errorf("failed to load hourly series: %w", err)
	}
	if len(series) == 0 {
		return nil, nil
	}

	expected, err := d.modelExpectations(ctx, equipmentID, from.Add(-warmup), to)
	if err != nil {
		return nil, err
	}

	flagged := d.evaluate(equipmentID, series, expected, from, th)

	// Ascending detected_at so a crash mid-sweep leaves a clean prefix and
	// the next run resumes by upserting the rest.
	sort.Slice(flagged, func(i, j int) bool { return flagged[i].DetectedAt.Before(flagged[j].DetectedAt) })
	for _, anomaly := range flagged {
		if err := d.anomalies.Upsert(ctx, anomaly); err != nil {
			return nil, err
		}
		d.bus.Publish(models.TopicAnomalyDetected, anomaly)
	}

	if len(flagged) > 0 {
		d.logger.Info("anomalies detected",
			zap.String("equipment_id", equipmentID.String()),
			zap.Int("count", len(flagged)))
	}
	return flagged, nil
}

// evaluate runs both checks per bucket and classifies the results. Buckets
// before windowStart are context only and never produce anomalies.
func (d *anomalyDetector) evaluate(equipmentID uuid.UUID, series []models.SeriesPoint, expected map[time.Time]float64, windowStart time.Time, th models.SeverityThresholds) []*models.Anomaly {
	var flagged []*models.Anomaly
	// Run of consecutive same-sign flags, for drift reclassification.
	runSign, runLength, runStart := 0, 0, -1

	for i, point := range series {
		if point.Bucket.Before(windowStart) {
			continue
		}

		severity := models.SeverityNormal
		observed := point.Value
		expectedValue := observed
		deviationPct := 0.0

		if mean, stddev, ok := rollingStats(series, i, d.cfg.RollingWindow); ok && stddev > 0 {
			z := math.Abs(observed-mean) / stddev
			expectedValue = mean
			deviationPct = models.Deviation(observed, mean)
			switch {
			case z >= th.CriticalSigma:
				severity = models.SeverityCritical
			case z >= th.WarningSigma:
				severity = models.SeverityWarning
			}
		}

		// The model check can only escalate severity: a value inside the
		// statistical band but far from the trained baseline is still
		// anomalous.
		if predicted, ok := expected[point.Bucket]; ok && predicted > 0 {
			modelDeviation := models.Deviation(observed, predicted)
			abs := math.Abs(modelDeviation)
			modelSeverity := models.SeverityNormal
			switch {
			case abs >= th.CriticalDeviationPct:
				modelSeverity = models.SeverityCritical
			case abs >= th.WarningDeviationPct:
				modelSeverity = models.SeverityWarning
			}
			if severityRank(modelSeverity) > severityRank(severity) {
				severity = modelSeverity
				expectedValue = predicted
				deviationPct = modelDeviation
			}
		}

		if severity == models.SeverityNormal {
			runSign, runLength, runStart = 0, 0, -1
			continue
		}

		anomalyType := models.AnomalyTypeSpike
		if deviationPct < 0 {
			anomalyType = models.AnomalyTypeDrop
		}

		sign := 1
		if deviationPct < 0 {
			sign = -1
		}
		if sign == runSign {
			runLength++
		} else {
			runSign, runLength, runStart = sign, 1, len(flagged)
		}

		flagged = append(flagged, &models.Anomaly{
			EquipmentID:      equipmentID,
			DetectedAt:       point.Bucket,
			Metric:           "consumption_kwh",
			ObservedValue:    observed,
			ExpectedValue:    expectedValue,
			DeviationPercent: deviationPct,
			Severity:         severity,
			AnomalyType:      anomalyType,
		})

		// A sustained same-sign run is one drifting condition, not a series
		// of independent spikes.
		if runLength >= driftRunLength {
			for j := runStart; j < len(flagged); j++ {
				flagged[j].AnomalyType = models.AnomalyTypeDrift
			}
		}
	}
	return flagged
}

// rollingStats returns mean and population stddev of the window preceding
// index i. The current bucket is excluded so it cannot mask itself.
func rollingStats(series []models.SeriesPoint, i, window int) (mean, stddev float64, ok bool) {
	start := i - window
	if start < 0 {
		start = 0
	}
	n := i - start
	if n < 2 {
		return 0, 0, false
	}
	sum := 0.0
	for _, p := range series[start:i] {
		sum += p.Value
	}
	mean = sum / float64(n)
	variance := 0.0
	for _, p := range series[start:i] {
		variance += (p.Value - mean) * (p.Value - mean)
	}
	stddev = math.Sqrt(variance / float64(n))
	return mean, stddev, true
}

// modelExpectations predicts hourly consumption from the latest equipment
// baseline, when one exists. Missing model or missing driver data disables
// the model check rather than failing the sweep.
func (d *anomalyDetector) modelExpectations(ctx context.Context, equipmentID uuid.UUID, from, to time.Time) (map[time.Time]float64, error) {
	model, err := d.baselines.GetLatest(ctx, models.TargetTypeEquipment, equipmentID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if model.LowConfidence {
		// A flagged fit has no business escalating anomalies.
		return nil, nil
	}

	// Resolve drivers against the source the model was trained on; gas and
	// steam units register their own feature definitions.
	source := model.EnergySource
	if source == "" {
		source = models.EnergySourceElectricity
	}
	plan, err := d.resolver.Resolve(ctx, source, model.FeatureNames)
	if err != nil {
		d.logger.Warn("model check disabled: feature plan unavailable",
			zap.String("equipment_id", equipmentID.String()), zap.Error(err))
		return nil, nil
	}

	featureSeries := make(map[string]map[time.Time]float64, len(plan.Features))
	for _, feature := range plan.Features {
		values, err := d.aggregate.FeatureSeries(ctx, feature, []uuid.UUID{equipmentID}, models.Resolution1h, from, to)
		if err != nil || len(values) == 0 {
			return nil, nil
		}
		featureSeries[feature.FeatureName] = values
	}

	// Hourly model predictions scale the per-bucket share: models are
	// trained on bucket totals at their own resolution, so predictions are
	// rescaled by bucket width.
	scale := 1.0
	if model.Resolution != models.Resolution1h {
		scale = time.Hour.Hours() / model.Resolution.BucketWidth().Hours()
	}

	expected := make(map[time.Time]float64)
	values := make(map[string]float64, len(model.FeatureNames))
	for bucket := from.Truncate(time.Hour); bucket.Before(to); bucket = bucket.Add(time.Hour) {
		complete := true
		for _, name := range model.FeatureNames {
			v, ok := featureSeries[name][bucket]
			if !ok {
				complete = false
				break
			}
			values[name] = v
		}
		if !complete {
			continue
		}
		expected[bucket] = model.Predict(values) * scale
	}
	return expected, nil
}

func (d *anomalyDetector) Sweep(ctx context.Context, from, to time.Time) (int, error) {
	ids, err := d.equipment.ListEquipmentIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		found, err := d.DetectForEquipment(ctx, id, from, to)
		if err != nil {
			// One broken unit must not abort the fleet sweep.
			d.logger.Error("sweep failed for equipment",
				zap.String("equipment_id", id.String()), zap.Error(err))
			continue
		}
		total += len(found)
	}
	return total, nil
}

func (d *anomalyDetector) ListRecent(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error) {
	return d.anomalies.List(ctx, filters)
}

func (d *anomalyDetector) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	return d.anomalies.Resolve(ctx, id, note)
}

func severityRank(severity string) int {
	switch severity {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	}
	return 0
}
