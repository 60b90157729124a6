package workqueue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Queue manages background task execution with configurable concurrency
// control. Triggering work returns immediately; completion is observed via
// the snapshot callback or the caller's own status tracking, never by
// blocking a request-handling goroutine.
// defaultRetention is how many finished task states are kept for inspection
// before the oldest are dropped.
const defaultRetention = 64

type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy  ConcurrencyStrategy
	retention int

	// wg tracks running goroutines for Shutdown.
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onUpdate func([]TaskSnapshot)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetention sets how many finished task states are retained. Pending and
// running tasks are never dropped.
func WithRetention(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.retention = n
		}
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:     make([]*TaskState, 0),
		strategy:  NewSerializedStrategy(4),
		retention: defaultRetention,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate sets the callback invoked when task state changes. The
// callback is invoked while holding the queue's internal lock: do NOT call
// Queue methods from within it, keep it fast and non-blocking.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue shut down, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)
	q.pruneLocked()

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("kind", string(task.Kind())))

	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
}

// tryStartTasksLocked checks the strategy and starts eligible pending tasks.
// Must be called with the lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		kind := ts.Task.Kind()
		if !q.strategy.CanStart(kind) {
			continue
		}

		q.strategy.OnStart(kind)
		ts.SetStatus(TaskStatusRunning)
		q.notifyUpdateLocked()

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes one task and re-triggers scheduling when it finishes.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	task := ts.Task
	err := task.Execute(q.ctx, q)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(task.Kind())

	if err != nil {
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.logger.Error("task failed",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()),
			zap.Error(err))
	} else {
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
	}

	q.pruneLocked()
	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
}

// pruneLocked drops the oldest finished task states once more than the
// retention cap have accumulated. Pending and running tasks always survive,
// so the queue stays bounded in a long-running process without losing work.
// Must be called with the lock held.
func (q *Queue) pruneLocked() {
	terminal := 0
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusCompleted, TaskStatusFailed:
			terminal++
		}
	}
	if terminal <= q.retention {
		return
	}

	drop := terminal - q.retention
	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if drop > 0 && (status == TaskStatusCompleted || status == TaskStatusFailed) {
			drop--
			continue
		}
		kept = append(kept, ts)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
}

// Snapshots returns the state of all tasks, oldest first.
func (q *Queue) Snapshots() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotsLocked()
}

func (q *Queue) snapshotsLocked() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

func (q *Queue) notifyUpdateLocked() {
	if q.onUpdate != nil {
		q.onUpdate(q.snapshotsLocked())
	}
}

// Shutdown cancels the queue context and waits for running tasks to return.
// Pending tasks never start.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.cancelled = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
