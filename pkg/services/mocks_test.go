package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// mockAggregateRepo serves canned series keyed by resolution and feature
// name. Unset keys return empty results, not errors.
type mockAggregateRepo struct {
	consumption map[models.Resolution][]models.SeriesPoint
	features    map[string]map[time.Time]float64
	dailyRaw    float64
	dailyLast   time.Time
	dailyErr    error
	dailyTotals []models.SeriesPoint
	refreshed   []models.Resolution
	missing     map[string]bool // source tables that "don't exist"
}

func newMockAggregateRepo() *mockAggregateRepo {
	return &mockAggregateRepo{
		consumption: make(map[models.Resolution][]models.SeriesPoint),
		features:    make(map[string]map[time.Time]float64),
		missing:     make(map[string]bool),
	}
}

func (m *mockAggregateRepo) ConsumptionSeries(ctx context.Context, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) ([]models.SeriesPoint, error) {
	var out []models.SeriesPoint
	for _, p := range m.consumption[res] {
		if !p.Bucket.Before(from) && p.Bucket.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockAggregateRepo) FeatureSeries(ctx context.Context, plan models.FeaturePlan, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) (map[time.Time]float64, error) {
	series := m.features[plan.FeatureName]
	out := make(map[time.Time]float64)
	for bucket, value := range series {
		if !bucket.Before(from) && bucket.Before(to) {
			out[bucket] = value
		}
	}
	return out, nil
}

func (m *mockAggregateRepo) DailyActual(ctx context.Context, equipmentIDs []uuid.UUID, day time.Time) (float64, time.Time, error) {
	if m.dailyErr != nil {
		return 0, time.Time{}, m.dailyErr
	}
	return m.dailyRaw, m.dailyLast, nil
}

func (m *mockAggregateRepo) DailyTotals(ctx context.Context, equipmentIDs []uuid.UUID, from, to time.Time) ([]models.SeriesPoint, error) {
	return m.dailyTotals, nil
}

func (m *mockAggregateRepo) RefreshResolution(ctx context.Context, res models.Resolution, from, to time.Time) (int64, error) {
	m.refreshed = append(m.refreshed, res)
	return 1, nil
}

func (m *mockAggregateRepo) TableExists(ctx context.Context, table string) (bool, error) {
	return !m.missing[table], nil
}

// mockFeatureRepo is an in-memory feature registry.
type mockFeatureRepo struct {
	defs map[string]*models.FeatureDefinition // key: source/name
}

func newMockFeatureRepo() *mockFeatureRepo {
	return &mockFeatureRepo{defs: make(map[string]*models.FeatureDefinition)}
}

func featureKey(source, name string) string { return source + "/" + name }

func (m *mockFeatureRepo) add(source, name, table, column, fn string, perEquipment bool) {
	m.defs[featureKey(source, name)] = &models.FeatureDefinition{
		ID:            uuid.New(),
		EnergySource:  source,
		FeatureName:   name,
		SourceTable:   table,
		SourceColumn:  column,
		AggregationFn: fn,
		PerEquipment:  perEquipment,
	}
}

func (m *mockFeatureRepo) Upsert(ctx context.Context, def *models.FeatureDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	m.defs[featureKey(def.EnergySource, def.FeatureName)] = def
	return nil
}

func (m *mockFeatureRepo) Get(ctx context.Context, energySource, featureName string) (*models.FeatureDefinition, error) {
	def, ok := m.defs[featureKey(energySource, featureName)]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", apperrors.ErrUnknownFeature, featureName, energySource)
	}
	return def, nil
}

func (m *mockFeatureRepo) ListBySource(ctx context.Context, energySource string) ([]*models.FeatureDefinition, error) {
	var out []*models.FeatureDefinition
	for _, def := range m.defs {
		if def.EnergySource == energySource {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *mockFeatureRepo) List(ctx context.Context) ([]*models.FeatureDefinition, error) {
	var out []*models.FeatureDefinition
	for _, def := range m.defs {
		out = append(out, def)
	}
	return out, nil
}

func (m *mockFeatureRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for key, def := range m.defs {
		if def.ID == id {
			delete(m.defs, key)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockBaselineRepo stores models in memory and assigns versions.
type mockBaselineRepo struct {
	mu     sync.Mutex
	models []*models.BaselineModel
	err    error
}

func (m *mockBaselineRepo) Create(ctx context.Context, model *models.BaselineModel) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 0
	for _, existing := range m.models {
		if existing.TargetType == model.TargetType && existing.TargetID == model.TargetID && existing.Version > version {
			version = existing.Version
		}
	}
	model.ID = uuid.New()
	model.Version = version + 1
	model.CreatedAt = time.Now().UTC()
	m.models = append(m.models, model)
	return nil
}

func (m *mockBaselineRepo) GetLatest(ctx context.Context, targetType string, targetID uuid.UUID) (*models.BaselineModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.BaselineModel
	for _, model := range m.models {
		if model.TargetType == targetType && model.TargetID == targetID {
			if latest == nil || model.Version > latest.Version {
				latest = model
			}
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return latest, nil
}

func (m *mockBaselineRepo) GetVersion(ctx context.Context, targetType string, targetID uuid.UUID, version int) (*models.BaselineModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, model := range m.models {
		if model.TargetType == targetType && model.TargetID == targetID && model.Version == version {
			return model, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// mockAnomalyRepo records upserts keyed by the natural uniqueness triple.
type mockAnomalyRepo struct {
	mu       sync.Mutex
	rows     map[string]*models.Anomaly
	upserts  int
	resolved map[uuid.UUID]string
}

func newMockAnomalyRepo() *mockAnomalyRepo {
	return &mockAnomalyRepo{
		rows:     make(map[string]*models.Anomaly),
		resolved: make(map[uuid.UUID]string),
	}
}

func anomalyKey(a *models.Anomaly) string {
	return fmt.Sprintf("%s|%s|%s", a.EquipmentID, a.DetectedAt.UTC().Format(time.RFC3339), a.Metric)
}

func (m *mockAnomalyRepo) Upsert(ctx context.Context, anomaly *models.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	key := anomalyKey(anomaly)
	if existing, ok := m.rows[key]; ok {
		// Matching rows update measurements but keep identity and the
		// resolution trail.
		anomaly.ID = existing.ID
		anomaly.Resolved = existing.Resolved
		anomaly.ResolutionNote = existing.ResolutionNote
	} else {
		anomaly.ID = uuid.New()
	}
	copied := *anomaly
	m.rows[key] = &copied
	return nil
}

func (m *mockAnomalyRepo) List(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Anomaly
	for _, a := range m.rows {
		if filters.EquipmentID != nil && a.EquipmentID != *filters.EquipmentID {
			continue
		}
		if filters.Severity != "" && a.Severity != filters.Severity {
			continue
		}
		if !filters.From.IsZero() && a.DetectedAt.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !a.DetectedAt.Before(filters.To) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockAnomalyRepo) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ID == id {
			a.Resolved = true
			a.ResolutionNote = &note
			m.resolved[id] = note
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockEquipmentRepo serves a fixed SEU/equipment inventory.
type mockEquipmentRepo struct {
	seus      map[uuid.UUID]*models.SEU
	equipment map[uuid.UUID]*models.EquipmentUnit
}

func newMockEquipmentRepo() *mockEquipmentRepo {
	return &mockEquipmentRepo{
		seus:      make(map[uuid.UUID]*models.SEU),
		equipment: make(map[uuid.UUID]*models.EquipmentUnit),
	}
}

func (m *mockEquipmentRepo) addSEU(name, energySource string, members ...uuid.UUID) *models.SEU {
	seu := &models.SEU{
		ID:           uuid.New(),
		Name:         name,
		EnergySource: energySource,
		EquipmentIDs: members,
	}
	m.seus[seu.ID] = seu
	return seu
}

func (m *mockEquipmentRepo) addEquipment(name string) *models.EquipmentUnit {
	unit := &models.EquipmentUnit{ID: uuid.New(), Name: name, Category: "test"}
	m.equipment[unit.ID] = unit
	return unit
}

func (m *mockEquipmentRepo) GetSEUByName(ctx context.Context, name string) (*models.SEU, error) {
	for _, seu := range m.seus {
		if seu.Name == name {
			return seu, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEquipmentRepo) GetSEUByID(ctx context.Context, id uuid.UUID) (*models.SEU, error) {
	seu, ok := m.seus[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return seu, nil
}

func (m *mockEquipmentRepo) ListSEUs(ctx context.Context) ([]*models.SEU, error) {
	var out []*models.SEU
	for _, seu := range m.seus {
		out = append(out, seu)
	}
	return out, nil
}

func (m *mockEquipmentRepo) GetEquipment(ctx context.Context, id uuid.UUID) (*models.EquipmentUnit, error) {
	unit, ok := m.equipment[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return unit, nil
}

func (m *mockEquipmentRepo) ListEquipmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range m.equipment {
		out = append(out, id)
	}
	return out, nil
}

// mockJobRepo enforces the one-active-job-per-target rule in memory.
type mockJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *mockJobRepo) CreateExclusive(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.Kind == job.Kind && existing.TargetType == job.TargetType &&
			existing.TargetID == job.TargetID && !existing.Terminal() {
			return apperrors.ErrTrainingInProgress
		}
	}
	job.ID = uuid.New()
	job.Status = models.JobStatusPending
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *mockJobRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, models.JobStatusPending, models.JobStatusRunning, nil)
}

func (m *mockJobRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, models.JobStatusRunning, models.JobStatusCompleted, nil)
}

func (m *mockJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.transition(id, "", models.JobStatusFailed, &errMsg)
}

func (m *mockJobRepo) transition(id uuid.UUID, want, next string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if want != "" && job.Status != want {
		return apperrors.ErrConflict
	}
	job.Status = next
	job.Error = errMsg
	return nil
}

func (m *mockJobRepo) FailStale(ctx context.Context, timeout time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-timeout)
	var failed int64
	for _, job := range m.jobs {
		if !job.Terminal() && job.CreatedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			msg := "timed out"
			job.Error = &msg
			failed++
		}
	}
	return failed, nil
}

func (m *mockJobRepo) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.Status
	}
	return ""
}
