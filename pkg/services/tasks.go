package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/events"
	"github.com/voltwise/enpi-engine/pkg/models"
	"github.com/voltwise/enpi-engine/pkg/repositories"
	"github.com/voltwise/enpi-engine/pkg/services/workqueue"
)

// trainingTask runs one baseline training job. The persisted job row is the
// source of truth for its lifecycle; the in-process task only drives it.
type trainingTask struct {
	workqueue.BaseTask
	job      *models.Job
	req      TrainRequest
	jobs     repositories.JobRepository
	baseline BaselineService
	bus      *events.Bus
	logger   *zap.Logger
}

func newTrainingTask(job *models.Job, req TrainRequest, jobs repositories.JobRepository, baseline BaselineService, bus *events.Bus, logger *zap.Logger) *trainingTask {
	return &trainingTask{
		BaseTask: workqueue.NewBaseTask(
			fmt.Sprintf("train %s/%s", req.TargetType, req.TargetID),
			workqueue.TaskKindTraining),
		job:      job,
		req:      req,
		jobs:     jobs,
		baseline: baseline,
		bus:      bus,
		logger:   logger,
	}
}

func (t *trainingTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	if err := t.jobs.MarkRunning(ctx, t.job.ID); err != nil {
		// Someone else (most likely the watchdog) already moved the job out
		// of pending; there is nothing left to run.
		t.logger.Warn("training job no longer pending, skipping",
			zap.String("job_id", t.job.ID.String()), zap.Error(err))
		return nil
	}
	t.bus.Publish(models.TopicTrainingStarted, map[string]any{
		"job_id":      t.job.ID,
		"target_type": t.req.TargetType,
		"target_id":   t.req.TargetID,
	})

	t.bus.Publish(models.TopicTrainingProgress, map[string]any{
		"job_id": t.job.ID,
		"stage":  "fitting",
	})
	model, err := t.baseline.Train(ctx, t.req)
	if err != nil {
		if markErr := t.jobs.MarkFailed(ctx, t.job.ID, err.Error()); markErr != nil {
			t.logger.Error("failed to mark job failed",
				zap.String("job_id", t.job.ID.String()), zap.Error(markErr))
		}
		t.bus.Publish(models.TopicTrainingFailed, map[string]any{
			"job_id": t.job.ID,
			"error":  err.Error(),
		})
		return err
	}

	if err := t.jobs.MarkCompleted(ctx, t.job.ID); err != nil {
		t.logger.Error("failed to mark job completed",
			zap.String("job_id", t.job.ID.String()), zap.Error(err))
	}
	t.bus.Publish(models.TopicTrainingCompleted, map[string]any{
		"job_id":         t.job.ID,
		"model_version":  model.Version,
		"r2":             model.Quality.R2,
		"low_confidence": model.LowConfidence,
	})
	return nil
}

// sweepTask runs one fleet-wide anomaly detection pass.
type sweepTask struct {
	workqueue.BaseTask
	job      *models.Job
	from, to time.Time
	jobs     repositories.JobRepository
	detector AnomalyDetector
	logger   *zap.Logger
}

func newSweepTask(job *models.Job, from, to time.Time, jobs repositories.JobRepository, detector AnomalyDetector, logger *zap.Logger) *sweepTask {
	return &sweepTask{
		BaseTask: workqueue.NewBaseTask(
			fmt.Sprintf("anomaly sweep %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339)),
			workqueue.TaskKindSweep),
		job:      job,
		from:     from,
		to:       to,
		jobs:     jobs,
		detector: detector,
		logger:   logger,
	}
}

func (t *sweepTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	if err := t.jobs.MarkRunning(ctx, t.job.ID); err != nil {
		t.logger.Warn("sweep job no longer pending, skipping",
			zap.String("job_id", t.job.ID.String()), zap.Error(err))
		return nil
	}

	count, err := t.detector.Sweep(ctx, t.from, t.to)
	if err != nil {
		if markErr := t.jobs.MarkFailed(ctx, t.job.ID, err.Error()); markErr != nil {
			t.logger.Error("failed to mark job failed",
				zap.String("job_id", t.job.ID.String()), zap.Error(markErr))
		}
		return err
	}

	t.logger.Info("anomaly sweep finished",
		zap.String("job_id", t.job.ID.String()), zap.Int("anomalies", count))
	return t.jobs.MarkCompleted(ctx, t.job.ID)
}
