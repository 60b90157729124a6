package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/config"
	"github.com/voltwise/enpi-engine/pkg/events"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
	"github.com/voltwise/enpi-engine/pkg/retry"
	"github.com/voltwise/enpi-engine/pkg/services/workqueue"
)

// retrainWindowDays is how much history a scheduled retraining run uses.
const retrainWindowDays = 90

// JobService creates and tracks background jobs. Creation is exclusive: the
// store rejects a second non-terminal job for the same (kind, target), which
// surfaces as ErrTrainingInProgress to callers.
type JobService interface {
	EnqueueTraining(ctx context.Context, req TrainRequest, reason string) (*models.Job, error)
	EnqueueSweep(ctx context.Context, from, to time.Time, reason string) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type jobService struct {
	jobs     repositories.JobRepository
	queue    *workqueue.Queue
	baseline BaselineService
	detector AnomalyDetector
	bus      *events.Bus
	logger   *zap.Logger
}

func NewJobService(
	jobs repositories.JobRepository,
	queue *workqueue.Queue,
	baseline BaselineService,
	detector AnomalyDetector,
	bus *events.Bus,
	logger *zap.Logger,
) JobService {
	return &jobService{
		jobs:     jobs,
		queue:    queue,
		baseline: baseline,
		detector: detector,
		bus:      bus,
		logger:   logger.Named("jobs"),
	}
}

var _ JobService = (*jobService)(nil)

func (s *jobService) EnqueueTraining(ctx context.Context, req TrainRequest, reason string) (*models.Job, error) {
	job := &models.Job{
		Kind:          models.JobKindBaselineTraining,
		TargetType:    req.TargetType,
		TargetID:      req.TargetID,
		Status:        models.JobStatusPending,
		TriggerReason: reason,
	}
	if err := s.jobs.CreateExclusive(ctx, job); err != nil {
		return nil, err
	}
	s.queue.Enqueue(newTrainingTask(job, req, s.jobs, s.baseline, s.bus, s.logger))
	return job, nil
}

func (s *jobService) EnqueueSweep(ctx context.Context, from, to time.Time, reason string) (*models.Job, error) {
	job := &models.Job{
		Kind:          models.JobKindAnomalySweep,
		TargetType:    models.TargetTypeSystem,
		TargetID:      uuid.Nil,
		Status:        models.JobStatusPending,
		TriggerReason: reason,
	}
	if err := s.jobs.CreateExclusive(ctx, job); err != nil {
		return nil, err
	}
	s.queue.Enqueue(newSweepTask(job, from, to, s.jobs, s.detector, s.logger))
	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// Scheduler drives the recurring background work: rollup refreshes, anomaly
// sweeps, nightly retraining and the stuck-job watchdog.
type Scheduler struct {
	jobs      JobService
	jobStore  repositories.JobRepository
	aggregate repositories.AggregateRepository
	baselines repositories.BaselineRepository
	equipment repositories.EquipmentRepository
	bus       *events.Bus
	cfg       config.JobsConfig
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewScheduler(
	jobs JobService,
	jobStore repositories.JobRepository,
	aggregate repositories.AggregateRepository,
	baselines repositories.BaselineRepository,
	equipment repositories.EquipmentRepository,
	bus *events.Bus,
	cfg config.JobsConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:      jobs,
		jobStore:  jobStore,
		aggregate: aggregate,
		baselines: baselines,
		equipment: equipment,
		bus:       bus,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    logger.Named("scheduler"),
	}
}

// Start registers the cron entries and begins firing them. Each entry logs
// and swallows its own errors; a failed tick never takes the process down.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"watchdog", s.cfg.WatchdogSchedule, s.runWatchdog},
		{"rollup_refresh", s.cfg.RollupSchedule, s.runRollupRefresh},
		{"anomaly_sweep", s.cfg.DetectionSchedule, s.runDetectionSweep},
		{"retrain", s.cfg.RetrainSchedule, s.runRetrainSweep},
	}
	for _, entry := range entries {
		run := entry.run
		if _, err := s.cron.AddFunc(entry.schedule, func() { run(ctx) }); err != nil {
			return err
		}
		s.logger.Info("scheduled", zap.String("job", entry.name), zap.String("cron", entry.schedule))
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// runWatchdog force-fails jobs stuck past the timeout so their (kind, target)
// slot frees up for new runs.
func (s *Scheduler) runWatchdog(ctx context.Context) {
	timeout := time.Duration(s.cfg.TimeoutMinutes) * time.Minute
	failed, err := s.jobStore.FailStale(ctx, timeout)
	if err != nil {
		s.logger.Error("watchdog failed", zap.Error(err))
		return
	}
	if failed > 0 {
		s.logger.Warn("watchdog failed stale jobs", zap.Int64("count", failed))
		s.bus.Publish(models.TopicSystemAlert, map[string]any{
			"alert":           "stale_jobs_failed",
			"count":           failed,
			"timeout_minutes": s.cfg.TimeoutMinutes,
		})
	}
}

// runRollupRefresh re-materializes the recent window of every rollup
// resolution from raw readings. The exclusive job row doubles as a lock:
// if the previous refresh is still running this tick is skipped.
func (s *Scheduler) runRollupRefresh(ctx context.Context) {
	job := &models.Job{
		Kind:          models.JobKindRollupRefresh,
		TargetType:    models.TargetTypeSystem,
		TargetID:      uuid.Nil,
		Status:        models.JobStatusPending,
		TriggerReason: "scheduled",
	}
	if err := s.jobStore.CreateExclusive(ctx, job); err != nil {
		if !errors.Is(err, apperrors.ErrTrainingInProgress) {
			s.logger.Error("rollup refresh job creation failed", zap.Error(err))
		}
		return
	}
	if err := s.jobStore.MarkRunning(ctx, job.ID); err != nil {
		s.logger.Error("rollup refresh start failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	windows := map[models.Resolution]time.Duration{
		models.Resolution1m:  2 * time.Hour,
		models.Resolution15m: 6 * time.Hour,
		models.Resolution1h:  48 * time.Hour,
		models.Resolution1d:  72 * time.Hour,
	}
	for _, res := range []models.Resolution{models.Resolution1m, models.Resolution15m, models.Resolution1h, models.Resolution1d} {
		rows, err := retry.DoWithResult(ctx, nil, func() (int64, error) {
			return s.aggregate.RefreshResolution(ctx, res, now.Add(-windows[res]), now)
		})
		if err != nil {
			s.logger.Error("rollup refresh failed",
				zap.String("resolution", string(res)), zap.Error(err))
			if markErr := s.jobStore.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
				s.logger.Error("failed to mark rollup job failed", zap.Error(markErr))
			}
			return
		}
		s.logger.Debug("rollup refreshed",
			zap.String("resolution", string(res)), zap.Int64("rows", rows))
		s.bus.Publish(models.TopicMetricUpdated, map[string]any{
			"resolution":   res,
			"rows":         rows,
			"refreshed_at": now,
		})
	}
	if err := s.jobStore.MarkCompleted(ctx, job.ID); err != nil {
		s.logger.Error("failed to mark rollup job completed", zap.Error(err))
	}
}

func (s *Scheduler) runDetectionSweep(ctx context.Context) {
	now := time.Now().UTC()
	// Overlap one extra interval so buckets finalized late are re-checked;
	// detection upserts make the overlap idempotent.
	from := now.Add(-2 * 15 * time.Minute).Truncate(time.Hour)
	if _, err := s.jobs.EnqueueSweep(ctx, from, now, "scheduled"); err != nil {
		if errors.Is(err, apperrors.ErrTrainingInProgress) {
			return // previous sweep still active
		}
		s.logger.Error("detection sweep enqueue failed", zap.Error(err))
	}
}

// runRetrainSweep enqueues training for every SEU whose latest model is
// missing or older than the configured age.
func (s *Scheduler) runRetrainSweep(ctx context.Context) {
	seus, err := s.equipment.ListSEUs(ctx)
	if err != nil {
		s.logger.Error("retrain sweep: listing SEUs failed", zap.Error(err))
		return
	}
	maxAge := time.Duration(s.cfg.RetrainMaxModelAgeDays) * 24 * time.Hour
	now := time.Now().UTC()

	for _, seu := range seus {
		model, err := s.baselines.GetLatest(ctx, models.TargetTypeSEU, seu.ID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// no model yet: train one
		case err != nil:
			s.logger.Error("retrain sweep: model lookup failed",
				zap.String("seu", seu.Name), zap.Error(err))
			continue
		case now.Sub(model.CreatedAt) < maxAge:
			continue
		}

		req := TrainRequest{
			TargetType: models.TargetTypeSEU,
			TargetID:   seu.ID,
			From:       now.AddDate(0, 0, -retrainWindowDays),
			To:         now,
		}
		if _, err := s.jobs.EnqueueTraining(ctx, req, "scheduled_retrain"); err != nil {
			if errors.Is(err, apperrors.ErrTrainingInProgress) {
				continue
			}
			s.logger.Error("retrain sweep: enqueue failed",
				zap.String("seu", seu.Name), zap.Error(err))
		}
	}
}
