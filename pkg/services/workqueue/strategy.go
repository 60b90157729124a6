package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks and decides whether a new task of a
// given kind can start.
type ConcurrencyStrategy interface {
	CanStart(kind TaskKind) bool
	OnStart(kind TaskKind)
	OnComplete(kind TaskKind)
}

// SerializedStrategy serializes training tasks (one model fit at a time,
// the fits are memory-heavy) while allowing up to maxSweeps detection or
// rollup sweeps to run alongside. Per-target exclusion is enforced in the
// job store, not here; this only bounds in-process load.
type SerializedStrategy struct {
	mu            sync.Mutex
	trainingBusy  bool
	sweepsRunning int
	maxSweeps     int
}

// NewSerializedStrategy creates the default strategy: one training task,
// up to maxSweeps concurrent sweeps.
func NewSerializedStrategy(maxSweeps int) *SerializedStrategy {
	if maxSweeps < 1 {
		maxSweeps = 1
	}
	return &SerializedStrategy{maxSweeps: maxSweeps}
}

func (s *SerializedStrategy) CanStart(kind TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == TaskKindTraining {
		return !s.trainingBusy
	}
	return s.sweepsRunning < s.maxSweeps
}

func (s *SerializedStrategy) OnStart(kind TaskKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == TaskKindTraining {
		s.trainingBusy = true
		return
	}
	s.sweepsRunning++
}

func (s *SerializedStrategy) OnComplete(kind TaskKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == TaskKindTraining {
		s.trainingBusy = false
		return
	}
	if s.sweepsRunning > 0 {
		s.sweepsRunning--
	}
}
