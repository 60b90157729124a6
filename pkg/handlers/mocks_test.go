package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/services"
)

// mockJobService records enqueue calls and serves canned jobs.
type mockJobService struct {
	job        *models.Job
	err        error
	lastReq    services.TrainRequest
	lastReason string
}

func (m *mockJobService) EnqueueTraining(ctx context.Context, req services.TrainRequest, reason string) (*models.Job, error) {
	m.lastReq = req
	m.lastReason = reason
	if m.err != nil {
		return nil, m.err
	}
	return m.job, nil
}

func (m *mockJobService) EnqueueSweep(ctx context.Context, from, to time.Time, reason string) (*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.job, nil
}

func (m *mockJobService) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.job == nil || m.job.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.job, nil
}

// mockBaselineService is a mock for services.BaselineService.
type mockBaselineService struct {
	model *models.BaselineModel
	err   error
}

func (m *mockBaselineService) Train(ctx context.Context, req services.TrainRequest) (*models.BaselineModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.model, nil
}

func (m *mockBaselineService) GetModel(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.model, nil
}

// mockAnomalyDetector is a mock for services.AnomalyDetector.
type mockAnomalyDetector struct {
	anomalies      []*models.Anomaly
	err            error
	lastFilters    models.AnomalyFilters
	lastEquipment  uuid.UUID
	lastThresholds *models.SeverityThresholds
	resolved       map[uuid.UUID]string
}

func (m *mockAnomalyDetector) DetectForEquipment(ctx context.Context, equipmentID uuid.UUID, from, to time.Time) ([]*models.Anomaly, error) {
	m.lastEquipment = equipmentID
	m.lastThresholds = nil
	return m.anomalies, m.err
}

func (m *mockAnomalyDetector) DetectWithThresholds(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, th models.SeverityThresholds) ([]*models.Anomaly, error) {
	m.lastEquipment = equipmentID
	m.lastThresholds = &th
	return m.anomalies, m.err
}

func (m *mockAnomalyDetector) Sweep(ctx context.Context, from, to time.Time) (int, error) {
	return len(m.anomalies), m.err
}

func (m *mockAnomalyDetector) ListRecent(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error) {
	m.lastFilters = filters
	if m.err != nil {
		return nil, m.err
	}
	return m.anomalies, nil
}

func (m *mockAnomalyDetector) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	if m.err != nil {
		return m.err
	}
	if m.resolved == nil {
		m.resolved = make(map[uuid.UUID]string)
	}
	m.resolved[id] = note
	return nil
}

// mockPerformanceService is a mock for services.PerformanceService.
type mockPerformanceService struct {
	analysis *models.PerformanceAnalysis
	err      error
	lastSEU  string
	lastSrc  string
	lastDate time.Time
}

func (m *mockPerformanceService) Analyze(ctx context.Context, seuName, energySource string, date time.Time) (*models.PerformanceAnalysis, error) {
	m.lastSEU, m.lastSrc, m.lastDate = seuName, energySource, date
	if m.err != nil {
		return nil, m.err
	}
	return m.analysis, nil
}

// mockFeatureStore is an in-memory repositories.FeatureRepository.
type mockFeatureStore struct {
	defs map[string]*models.FeatureDefinition
	err  error
}

func newMockFeatureStore() *mockFeatureStore {
	return &mockFeatureStore{defs: make(map[string]*models.FeatureDefinition)}
}

func (m *mockFeatureStore) key(source, name string) string { return source + "/" + name }

func (m *mockFeatureStore) Upsert(ctx context.Context, def *models.FeatureDefinition) error {
	if m.err != nil {
		return m.err
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	m.defs[m.key(def.EnergySource, def.FeatureName)] = def
	return nil
}

func (m *mockFeatureStore) Get(ctx context.Context, energySource, featureName string) (*models.FeatureDefinition, error) {
	if m.err != nil {
		return nil, m.err
	}
	def, ok := m.defs[m.key(energySource, featureName)]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", apperrors.ErrUnknownFeature, featureName, energySource)
	}
	return def, nil
}

func (m *mockFeatureStore) ListBySource(ctx context.Context, energySource string) ([]*models.FeatureDefinition, error) {
	var out []*models.FeatureDefinition
	for _, def := range m.defs {
		if def.EnergySource == energySource {
			out = append(out, def)
		}
	}
	return out, m.err
}

func (m *mockFeatureStore) List(ctx context.Context) ([]*models.FeatureDefinition, error) {
	var out []*models.FeatureDefinition
	for _, def := range m.defs {
		out = append(out, def)
	}
	return out, m.err
}

func (m *mockFeatureStore) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	for key, def := range m.defs {
		if def.ID == id {
			delete(m.defs, key)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockAggregateStore serves a fixed consumption series regardless of target.
type mockAggregateStore struct {
	points []models.SeriesPoint
	err    error
}

func (m *mockAggregateStore) ConsumptionSeries(ctx context.Context, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) ([]models.SeriesPoint, error) {
	return m.points, m.err
}

func (m *mockAggregateStore) FeatureSeries(ctx context.Context, plan models.FeaturePlan, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) (map[time.Time]float64, error) {
	return nil, m.err
}

func (m *mockAggregateStore) DailyActual(ctx context.Context, equipmentIDs []uuid.UUID, day time.Time) (float64, time.Time, error) {
	return 0, time.Time{}, m.err
}

func (m *mockAggregateStore) DailyTotals(ctx context.Context, equipmentIDs []uuid.UUID, from, to time.Time) ([]models.SeriesPoint, error) {
	return nil, m.err
}

func (m *mockAggregateStore) RefreshResolution(ctx context.Context, res models.Resolution, from, to time.Time) (int64, error) {
	return 0, m.err
}

func (m *mockAggregateStore) TableExists(ctx context.Context, table string) (bool, error) {
	return true, m.err
}
