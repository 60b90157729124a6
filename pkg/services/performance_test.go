package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/models"
)

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		EnergyUnitCost:            0.12,
		MinPartialHours:           2,
		ActionabilityThresholdPct: 10,
		RollingBaselineDays:       30,
		CacheTTLHours:             24,
	}
}

type performanceFixture struct {
	service   *performanceService
	aggregate *mockAggregateRepo
	baselines *mockBaselineRepo
	anomalies *mockAnomalyRepo
	equipment *mockEquipmentRepo
	features  *mockFeatureRepo
	seu       *models.SEU
	day       time.Time
}

func newPerformanceFixture(t *testing.T) *performanceFixture {
	t.Helper()
	aggregate := newMockAggregateRepo()
	features := newMockFeatureRepo()
	baselines := &mockBaselineRepo{}
	anomalies := newMockAnomalyRepo()
	equipment := newMockEquipmentRepo()

	unit := equipment.addEquipment("chiller-1")
	seu := equipment.addSEU("chiller_plant", models.EnergySourceElectricity, unit.ID)

	resolver := NewFeatureResolver(features, aggregate, zap.NewNop())
	service := NewPerformanceService(equipment, aggregate, baselines, anomalies, resolver, nil, testAnalysisConfig(), zap.NewNop()).(*performanceService)

	return &performanceFixture{
		service:   service,
		aggregate: aggregate,
		baselines: baselines,
		anomalies: anomalies,
		equipment: equipment,
		features:  features,
		seu:       seu,
		day:       time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
}

// withRollingBaseline seeds 30 complete days averaging mean kWh/day.
func (f *performanceFixture) withRollingBaseline(mean float64) {
	for i := 1; i <= 30; i++ {
		f.aggregate.dailyTotals = append(f.aggregate.dailyTotals, models.SeriesPoint{
			Bucket: f.day.AddDate(0, 0, -i),
			Value:  mean,
		})
	}
}

func (f *performanceFixture) atFullDay() {
	f.service.now = func() time.Time { return f.day.Add(36 * time.Hour) }
}

func TestAnalyze_FullDayIsNotProjected(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1000
	f.aggregate.dailyLast = f.day.Add(23*time.Hour + 55*time.Minute)
	f.withRollingBaseline(1000)

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)

	assert.False(t, analysis.IsProjection)
	assert.Equal(t, 24.0, analysis.HoursElapsed)
	assert.Equal(t, 1000.0, analysis.RawKWh)
	assert.Equal(t, 1000.0, analysis.ActualKWh)
	assert.Equal(t, models.BaselineSourceRollingAverage, analysis.BaselineSource)
	assert.Equal(t, 1.0, analysis.EfficiencyScore)
	assert.Equal(t, models.ComplianceOnTarget, analysis.ComplianceStatus)
	assert.Equal(t, models.RootCauseNormalOperation, analysis.RootCause.Classification)
	assert.InDelta(t, 0.9, analysis.RootCause.Confidence, 1e-9)
}

func TestAnalyze_PartialDayProjectsTo24h(t *testing.T) {
	f := newPerformanceFixture(t)
	// 13.3 hours into the analyzed day.
	f.service.now = func() time.Time { return f.day.Add(13*time.Hour + 18*time.Minute) }
	f.aggregate.dailyRaw = 598
	f.aggregate.dailyLast = f.day.Add(13*time.Hour + 18*time.Minute)
	f.withRollingBaseline(1000)

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)

	assert.True(t, analysis.IsProjection)
	assert.InDelta(t, 13.3, analysis.HoursElapsed, 1e-9)
	assert.Equal(t, 598.0, analysis.RawKWh)
	assert.InDelta(t, 598.0/13.3*24, analysis.ActualKWh, 1e-9)
	// 1079 projected against a 1000 baseline is an overrun, not savings.
	assert.NotEqual(t, models.ComplianceExcellent, analysis.ComplianceStatus)
	// Projection lowers classification confidence.
	assert.InDelta(t, 0.6, analysis.RootCause.Confidence, 1e-9)
	assert.Contains(t, analysis.Summary, "projecting")
}

func TestAnalyze_TooLittlePartialData(t *testing.T) {
	f := newPerformanceFixture(t)
	f.service.now = func() time.Time { return f.day.Add(90 * time.Minute) }
	f.aggregate.dailyRaw = 40
	f.aggregate.dailyLast = f.day.Add(90 * time.Minute)

	_, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPartialData)
}

func TestAnalyze_NoDataForPeriod(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyErr = apperrors.ErrNoDataForPeriod

	_, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	assert.ErrorIs(t, err, apperrors.ErrNoDataForPeriod)
}

func TestAnalyze_WrongEnergySource(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()

	_, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceNaturalGas, f.day)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAnalyze_RegressionBaselinePreferred(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1100
	f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
	f.withRollingBaseline(500) // would disagree; must not be used

	f.features.add(models.EnergySourceElectricity, "outdoor_temp", "weather_observations", "outdoor_temp_c", models.AggAvg, false)
	f.aggregate.features["outdoor_temp"] = map[time.Time]float64{f.day: 25}

	// expected = 200 + 40*25 = 1200 for the day at 1d resolution.
	require.NoError(t, f.baselines.Create(context.Background(), &models.BaselineModel{
		TargetType:   models.TargetTypeSEU,
		TargetID:     f.seu.ID,
		FeatureNames: []string{"outdoor_temp"},
		Coefficients: []float64{40},
		Intercept:    200,
		Resolution:   models.Resolution1d,
		Quality:      models.FitQuality{R2: 0.92},
	}))

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)

	assert.Equal(t, models.BaselineSourceRegression, analysis.BaselineSource)
	require.NotNil(t, analysis.ModelVersion)
	assert.Equal(t, 1, *analysis.ModelVersion)
	require.NotNil(t, analysis.BaselineKWh)
	assert.InDelta(t, 1200.0, *analysis.BaselineKWh, 1e-9)
	require.NotNil(t, analysis.DeviationKWh)
	assert.InDelta(t, -100.0, *analysis.DeviationKWh, 1e-9)
	require.NotNil(t, analysis.CostDeviation)
	assert.InDelta(t, -12.0, *analysis.CostDeviation, 1e-9)
}

func TestAnalyze_FallsBackWhenDriverDataMissing(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1000
	f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
	f.withRollingBaseline(1000)

	f.features.add(models.EnergySourceElectricity, "outdoor_temp", "weather_observations", "outdoor_temp_c", models.AggAvg, false)
	// Model exists but its driver has no observations for the day.
	require.NoError(t, f.baselines.Create(context.Background(), &models.BaselineModel{
		TargetType:   models.TargetTypeSEU,
		TargetID:     f.seu.ID,
		FeatureNames: []string{"outdoor_temp"},
		Coefficients: []float64{40},
		Intercept:    200,
		Resolution:   models.Resolution1d,
		Quality:      models.FitQuality{R2: 0.92},
	}))

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)
	assert.Equal(t, models.BaselineSourceRollingAverage, analysis.BaselineSource)
	assert.Nil(t, analysis.ModelVersion)
}

func TestAnalyze_EfficiencyScoreBands(t *testing.T) {
	cases := []struct {
		name       string
		actual     float64
		score      float64
		compliance string
	}{
		{"within 5 percent", 1030, 1.0, models.ComplianceOnTarget},
		{"within 15 percent over", 1100, 0.8, models.ComplianceOnTarget},
		{"within 30 percent over", 1250, 0.6, models.ComplianceRequiresAttention},
		{"beyond 30 percent over", 1400, 0.4, models.ComplianceNonCompliant},
		{"modest savings stay on target", 900, 0.8, models.ComplianceOnTarget},
		{"large savings score lower but comply", 750, 0.6, models.ComplianceExcellent},
		{"severe under-consumption is still favorable", 600, 0.4, models.ComplianceExcellent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPerformanceFixture(t)
			f.atFullDay()
			f.aggregate.dailyRaw = tc.actual
			f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
			f.withRollingBaseline(1000)

			analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
			require.NoError(t, err)
			assert.Equal(t, tc.score, analysis.EfficiencyScore)
			assert.Equal(t, tc.compliance, analysis.ComplianceStatus)
		})
	}
}

func TestAnalyze_RootCauseRules(t *testing.T) {
	cases := []struct {
		name   string
		actual float64
		want   string
	}{
		{"large over-consumption", 1300, models.RootCauseHighDemand},
		{"large under-consumption", 700, models.RootCauseReducedLoad},
		{"near baseline", 1020, models.RootCauseNormalOperation},
		{"moderate shift", 1120, models.RootCauseProcessChange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPerformanceFixture(t)
			f.atFullDay()
			f.aggregate.dailyRaw = tc.actual
			f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
			f.withRollingBaseline(1000)

			analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
			require.NoError(t, err)
			assert.Equal(t, tc.want, analysis.RootCause.Classification)
		})
	}
}

func TestAnalyze_RecommendationsOnlyAboveThreshold(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1300
	f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
	f.withRollingBaseline(1000)

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)
	require.NotEmpty(t, analysis.Recommendations)
	for _, rec := range analysis.Recommendations {
		assert.NotEmpty(t, rec.Action)
		assert.Greater(t, rec.EstimatedSavings, 0.0)
	}

	// Below the 10% actionability threshold: no recommendations.
	f2 := newPerformanceFixture(t)
	f2.atFullDay()
	f2.aggregate.dailyRaw = 1080
	f2.aggregate.dailyLast = f2.day.Add(23 * time.Hour)
	f2.withRollingBaseline(1000)

	quiet, err := f2.service.Analyze(context.Background(), f2.seu.Name, models.EnergySourceElectricity, f2.day)
	require.NoError(t, err)
	assert.Empty(t, quiet.Recommendations)

	// Under-consumption never produces saving recommendations.
	f3 := newPerformanceFixture(t)
	f3.atFullDay()
	f3.aggregate.dailyRaw = 700
	f3.aggregate.dailyLast = f3.day.Add(23 * time.Hour)
	f3.withRollingBaseline(1000)

	under, err := f3.service.Analyze(context.Background(), f3.seu.Name, models.EnergySourceElectricity, f3.day)
	require.NoError(t, err)
	assert.Empty(t, under.Recommendations)
}

func TestAnalyze_NoBaselineAvailable(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1000
	f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
	// No model, no history.

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)

	assert.Nil(t, analysis.BaselineKWh)
	assert.Equal(t, models.BaselineSourceUnknown, analysis.BaselineSource)
	assert.Equal(t, models.ComplianceUnknown, analysis.ComplianceStatus)
	assert.Equal(t, models.RootCauseUnknown, analysis.RootCause.Classification)
	assert.Equal(t, 0.0, analysis.EfficiencyScore)
	assert.Contains(t, analysis.Summary, "No baseline")
}

func TestAnalyze_IncludesDayAnomalies(t *testing.T) {
	f := newPerformanceFixture(t)
	f.atFullDay()
	f.aggregate.dailyRaw = 1000
	f.aggregate.dailyLast = f.day.Add(23 * time.Hour)
	f.withRollingBaseline(1000)

	equipmentID := f.seu.EquipmentIDs[0]
	require.NoError(t, f.anomalies.Upsert(context.Background(), &models.Anomaly{
		EquipmentID: equipmentID,
		DetectedAt:  f.day.Add(10 * time.Hour),
		Metric:      "consumption_kwh",
		Severity:    models.SeverityWarning,
		AnomalyType: models.AnomalyTypeSpike,
	}))
	// Outside the analyzed day; must not appear.
	require.NoError(t, f.anomalies.Upsert(context.Background(), &models.Anomaly{
		EquipmentID: equipmentID,
		DetectedAt:  f.day.AddDate(0, 0, -2),
		Metric:      "consumption_kwh",
		Severity:    models.SeverityCritical,
		AnomalyType: models.AnomalyTypeDrop,
	}))

	analysis, err := f.service.Analyze(context.Background(), f.seu.Name, models.EnergySourceElectricity, f.day)
	require.NoError(t, err)
	require.Len(t, analysis.Anomalies, 1)
	assert.Equal(t, models.SeverityWarning, analysis.Anomalies[0].Severity)
	assert.Contains(t, analysis.Summary, "1 anomaly was flagged")
}
