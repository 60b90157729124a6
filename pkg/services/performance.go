package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
)

// Efficiency score bands on absolute deviation percent.
const (
	deviationBandExcellent = 5.0
	deviationBandOnTarget  = 15.0
	deviationBandAttention = 30.0
)

// Root-cause rule bounds.
const (
	rootCauseDemandPct = 20.0
	rootCauseNormalPct = 5.0
)

// PerformanceService produces the composite daily analysis for an SEU. The
// result is transient: recomputed from readings, the latest baseline and
// recent anomalies every time, with a cache in front for completed days only.
type PerformanceService interface {
	Analyze(ctx context.Context, seuName, energySource string, date time.Time) (*models.PerformanceAnalysis, error)
}

type performanceService struct {
	equipment repositories.EquipmentRepository
	aggregate repositories.AggregateRepository
	baselines repositories.BaselineRepository
	anomalies repositories.AnomalyRepository
	resolver  FeatureResolver
	cache     *redis.Client // nil disables caching
	cfg       config.AnalysisConfig
	now       func() time.Time
	logger    *zap.Logger
}

func NewPerformanceService(
	equipment repositories.EquipmentRepository,
	aggregate repositories.AggregateRepository,
	baselines repositories.BaselineRepository,
	anomalies repositories.AnomalyRepository,
	resolver FeatureResolver,
	cache *redis.Client,
	cfg config.AnalysisConfig,
	logger *zap.Logger,
) PerformanceService {
	return &performanceService{
		equipment: equipment,
		aggregate: aggregate,
		baselines: baselines,
		anomalies: anomalies,
		resolver:  resolver,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("performance"),
	}
}

var _ PerformanceService = (*performanceService)(nil)

func analysisCacheKey(seuName, energySource string, date time.Time) string {
	return fmt.Sprintf("analysis:%s:%s:%s", seuName, energySource, date.Format("2006-01-02"))
}

func (s *performanceService) Analyze(ctx context.Context, seuName, energySource string, date time.Time) (*models.PerformanceAnalysis, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)
	now := s.now().UTC()
	completeDay := !now.Before(dayEnd)

	if completeDay {
		if cached := s.cacheGet(ctx, analysisCacheKey(seuName, energySource, day)); cached != nil {
			return cached, nil
		}
	}

	seu, err := s.equipment.GetSEUByName(ctx, seuName)
	if err != nil {
		return nil, err
	}
	if seu.EnergySource != energySource {
		return nil, fmt.Errorf("%w: SEU %q tracks %s, not %s",
			apperrors.ErrNotFound, seuName, seu.EnergySource, energySource)
	}

	rawKWh, lastReading, err := s.aggregate.DailyActual(ctx, seu.EquipmentIDs, day)
	if err != nil {
		return nil, err
	}

	analysis := &models.PerformanceAnalysis{
		SEUName:      seu.Name,
		EnergySource: seu.EnergySource,
		Date:         day,
		RawKWh:       rawKWh,
		GeneratedAt:  now,
	}

	// Partial-day handling: a complete day uses the raw total as-is; an
	// in-progress day is linearly projected to a 24h equivalent, provided
	// enough of the day has been observed to extrapolate from.
	if completeDay {
		analysis.HoursElapsed = 24
		analysis.ActualKWh = rawKWh
	} else {
		hours := lastReading.Sub(day).Hours()
		if hours > 24 {
			hours = 24
		}
		if hours < float64(s.cfg.MinPartialHours) {
			return nil, fmt.Errorf("%w: only %.1fh of data for %s, need %vh",
				apperrors.ErrInsufficientPartialData, hours, day.Format("2006-01-02"), s.cfg.MinPartialHours)
		}
		analysis.HoursElapsed = hours
		analysis.IsProjection = true
		analysis.ActualKWh = rawKWh / hours * 24
	}

	s.attachBaseline(ctx, analysis, seu, day)
	s.score(analysis)
	s.classifyRootCause(analysis)
	s.recommend(analysis)
	s.attachAnomalies(ctx, analysis, seu, day, dayEnd)
	analysis.Summary = buildSummary(analysis)

	if completeDay {
		s.cacheSet(ctx, analysisCacheKey(seuName, energySource, day), analysis)
	}
	return analysis, nil
}

// attachBaseline fills the expected-consumption side of the analysis: the
// latest regression model when its drivers have data for the day, otherwise
// a rolling mean of recent complete days, otherwise nothing.
func (s *performanceService) attachBaseline(ctx context.Context, analysis *models.PerformanceAnalysis, seu *models.SEU, day time.Time) {
	analysis.BaselineSource = models.BaselineSourceUnknown

	model, err := s.baselines.GetLatest(ctx, models.TargetTypeSEU, seu.ID)
	if err == nil {
		if expected, ok := s.predictDay(ctx, model, seu, day); ok {
			analysis.BaselineKWh = &expected
			analysis.BaselineSource = models.BaselineSourceRegression
			version := model.Version
			analysis.ModelVersion = &version
			analysis.LowConfidence = model.LowConfidence
			s.computeDeviation(analysis)
			return
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Error("failed to load baseline model", zap.Error(err))
	}

	from := day.AddDate(0, 0, -s.cfg.RollingBaselineDays)
	totals, err := s.aggregate.DailyTotals(ctx, seu.EquipmentIDs, from, day)
	if err != nil || len(totals) == 0 {
		return
	}
	sum := 0.0
	for _, point := range totals {
		sum += point.Value
	}
	mean := sum / float64(len(totals))
	analysis.BaselineKWh = &mean
	analysis.BaselineSource = models.BaselineSourceRollingAverage
	s.computeDeviation(analysis)
}

// predictDay sums the model's per-bucket predictions across the day. Any
// missing driver bucket disqualifies the model for that day; the caller
// falls back to the rolling average.
func (s *performanceService) predictDay(ctx context.Context, model *models.BaselineModel, seu *models.SEU, day time.Time) (float64, bool) {
	plan, err := s.resolver.Resolve(ctx, seu.EnergySource, model.FeatureNames)
	if err != nil {
		s.logger.Warn("baseline drivers unresolvable, falling back",
			zap.String("seu", seu.Name), zap.Error(err))
		return 0, false
	}

	featureSeries := make(map[string]map[time.Time]float64, len(plan.Features))
	for _, feature := range plan.Features {
		values, err := s.aggregate.FeatureSeries(ctx, feature, seu.EquipmentIDs, model.Resolution, day, day.Add(24*time.Hour))
		if err != nil || len(values) == 0 {
			return 0, false
		}
		featureSeries[feature.FeatureName] = values
	}

	width := model.Resolution.BucketWidth()
	total := 0.0
	values := make(map[string]float64, len(model.FeatureNames))
	for bucket := day; bucket.Before(day.Add(24 * time.Hour)); bucket = bucket.Add(width) {
		for _, name := range model.FeatureNames {
			v, ok := featureSeries[name][bucket]
			if !ok {
				return 0, false
			}
			values[name] = v
		}
		total += model.Predict(values)
	}
	return total, true
}

func (s *performanceService) computeDeviation(analysis *models.PerformanceAnalysis) {
	if analysis.BaselineKWh == nil {
		return
	}
	deviationKWh := analysis.ActualKWh - *analysis.BaselineKWh
	deviationPct := models.Deviation(analysis.ActualKWh, *analysis.BaselineKWh)
	costDeviation := deviationKWh * s.cfg.EnergyUnitCost
	analysis.DeviationKWh = &deviationKWh
	analysis.DeviationPercent = &deviationPct
	analysis.CostDeviation = &costDeviation
}

// score computes the banded efficiency score from deviation magnitude and
// the compliance status from its sign. Without a baseline both stay at
// their zero values.
func (s *performanceService) score(analysis *models.PerformanceAnalysis) {
	if analysis.DeviationPercent == nil {
		analysis.ComplianceStatus = models.ComplianceUnknown
		return
	}
	deviation := *analysis.DeviationPercent
	abs := math.Abs(deviation)
	switch {
	case abs <= deviationBandExcellent:
		analysis.EfficiencyScore = 1.0
	case abs <= deviationBandOnTarget:
		analysis.EfficiencyScore = 0.8
	case abs <= deviationBandAttention:
		analysis.EfficiencyScore = 0.6
	default:
		analysis.EfficiencyScore = 0.4
	}

	// Compliance is directional: only over-consumption is a finding, and
	// consuming well under baseline is the target state.
	switch {
	case deviation <= -deviationBandOnTarget:
		analysis.ComplianceStatus = models.ComplianceExcellent
	case abs <= deviationBandOnTarget:
		analysis.ComplianceStatus = models.ComplianceOnTarget
	case deviation <= deviationBandAttention:
		analysis.ComplianceStatus = models.ComplianceRequiresAttention
	default:
		analysis.ComplianceStatus = models.ComplianceNonCompliant
	}
}

func (s *performanceService) classifyRootCause(analysis *models.PerformanceAnalysis) {
	if analysis.DeviationPercent == nil {
		analysis.RootCause = models.RootCause{Classification: models.RootCauseUnknown, Confidence: 0}
		return
	}
	deviation := *analysis.DeviationPercent
	var classification string
	switch {
	case deviation > rootCauseDemandPct:
		classification = models.RootCauseHighDemand
	case deviation < -rootCauseDemandPct:
		classification = models.RootCauseReducedLoad
	case math.Abs(deviation) <= rootCauseNormalPct:
		classification = models.RootCauseNormalOperation
	default:
		classification = models.RootCauseProcessChange
	}

	confidence := 0.9
	if analysis.IsProjection {
		// A projected total can swing as the day fills in.
		confidence = 0.6
	}
	if analysis.LowConfidence {
		confidence -= 0.2
	}
	analysis.RootCause = models.RootCause{Classification: classification, Confidence: confidence}
}

// recommend emits actions only for over-consumption beyond the actionability
// threshold; savings estimates are annualized from the daily cost deviation.
func (s *performanceService) recommend(analysis *models.PerformanceAnalysis) {
	analysis.Recommendations = []models.Recommendation{}
	if analysis.DeviationPercent == nil || *analysis.DeviationPercent <= s.cfg.ActionabilityThresholdPct {
		return
	}
	annualized := *analysis.CostDeviation * 365

	switch analysis.RootCause.Classification {
	case models.RootCauseHighDemand:
		analysis.Recommendations = append(analysis.Recommendations,
			models.Recommendation{
				Action:           "Review production scheduling to shift load away from peak-demand windows",
				EstimatedSavings: annualized * 0.3,
				Effort:           "medium",
				Priority:         "high",
				ExpectedPayback:  "3-6 months",
			},
			models.Recommendation{
				Action:           "Verify equipment staging: stagger start-ups to avoid simultaneous peak draw",
				EstimatedSavings: annualized * 0.15,
				Effort:           "low",
				Priority:         "medium",
				ExpectedPayback:  "immediate",
			})
	case models.RootCauseProcessChange:
		analysis.Recommendations = append(analysis.Recommendations,
			models.Recommendation{
				Action:           "Audit recent process or setpoint changes against the baseline training period",
				EstimatedSavings: annualized * 0.5,
				Effort:           "medium",
				Priority:         "high",
				ExpectedPayback:  "1-3 months",
			})
	default:
		analysis.Recommendations = append(analysis.Recommendations,
			models.Recommendation{
				Action:           "Inspect equipment condition: sustained over-consumption without a demand driver suggests degradation",
				EstimatedSavings: annualized * 0.4,
				Effort:           "high",
				Priority:         "medium",
				ExpectedPayback:  "6-12 months",
			})
	}
}

func (s *performanceService) attachAnomalies(ctx context.Context, analysis *models.PerformanceAnalysis, seu *models.SEU, from, to time.Time) {
	analysis.Anomalies = []models.Anomaly{}
	for _, id := range seu.EquipmentIDs {
		equipmentID := id
		found, err := s.anomalies.List(ctx, models.AnomalyFilters{
			EquipmentID: &equipmentID,
			From:        from,
			To:          to,
		})
		if err != nil {
			s.logger.Error("failed to load anomalies for analysis",
				zap.String("equipment_id", id.String()), zap.Error(err))
			continue
		}
		for _, a := range found {
			analysis.Anomalies = append(analysis.Anomalies, *a)
		}
	}
}

// buildSummary renders the one-paragraph operator summary. Projected figures
// are always labelled as such.
func buildSummary(a *models.PerformanceAnalysis) string {
	var b strings.Builder

	if a.IsProjection {
		fmt.Fprintf(&b, "%s consumed %.1f kWh over the first %.1f hours of %s, projecting to %.1f kWh for the full day.",
			a.SEUName, a.RawKWh, a.HoursElapsed, a.Date.Format("2006-01-02"), a.ActualKWh)
	} else {
		fmt.Fprintf(&b, "%s consumed %.1f kWh on %s.",
			a.SEUName, a.ActualKWh, a.Date.Format("2006-01-02"))
	}

	if a.BaselineKWh != nil {
		source := "the rolling average"
		if a.BaselineSource == models.BaselineSourceRegression {
			source = fmt.Sprintf("baseline model v%d", *a.ModelVersion)
		}
		fmt.Fprintf(&b, " That is %.1f%% versus the %.1f kWh expected by %s.",
			*a.DeviationPercent, *a.BaselineKWh, source)
		if a.LowConfidence {
			b.WriteString(" The baseline model is flagged low-confidence; treat the comparison as indicative.")
		}
		fmt.Fprintf(&b, " Likely cause: %s (confidence %.0f%%).",
			strings.ReplaceAll(a.RootCause.Classification, "_", " "), a.RootCause.Confidence*100)
	} else {
		b.WriteString(" No baseline is available for comparison yet.")
	}

	if n := len(a.Anomalies); n > 0 {
		fmt.Fprintf(&b, " %d anomal%s flagged on member equipment.", n, pluralY(n))
	}
	return b.String()
}

func pluralY(n int) string {
	if n == 1 {
		return "y was"
	}
	return "ies were"
}

func (s *performanceService) cacheGet(ctx context.Context, key string) *models.PerformanceAnalysis {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("analysis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	var analysis models.PerformanceAnalysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil
	}
	return &analysis
}

func (s *performanceService) cacheSet(ctx context.Context, key string, analysis *models.PerformanceAnalysis) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	ttl := time.Duration(s.cfg.CacheTTLHours) * time.Hour
	if err := s.cache.Set(ctx, key, payload, ttl).Err(); err != nil {
		s.logger.Warn("analysis cache write failed", zap.String("key", key), zap.Error(err))
	}
}
