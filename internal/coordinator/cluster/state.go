package cluster

import (
	"sync"
	"time"

	"github.com/modelbench-go/pkg/metrics"
)

// WorkerStatus is the lifecycle status of a registered worker.
type WorkerStatus string

const (
	StatusIdle      WorkerStatus = "idle"
	StatusBusy      WorkerStatus = "busy"
	StatusUnhealthy WorkerStatus = "unhealthy"
	StatusFailed    WorkerStatus = "failed"
	StatusDraining  WorkerStatus = "draining"
)

// Worker is one registered worker node. The cluster state owns these records;
// everything else refers to workers by id.
type Worker struct {
	ID             string            `json:"id"`
	Address        string            `json:"address"`
	Status         WorkerStatus      `json:"status"`
	Capacity       int               `json:"capacity"`
	CurrentTasks   int               `json:"currentTasks"`
	CompletedTasks int64             `json:"completedTasks"`
	FailedTasks    int64             `json:"failedTasks"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastHeartbeat  time.Time         `json:"lastHeartbeat"`
	RegisteredAt   time.Time         `json:"registeredAt"`
}

// Load is current tasks over capacity, in [0,1].
func (w *Worker) Load() float64 {
	if w.Capacity == 0 {
		return 1
	}
	return float64(w.CurrentTasks) / float64(w.Capacity)
}

// Eligible reports whether the worker may accept another task.
func (w *Worker) Eligible() bool {
	if w.Status != StatusIdle && w.Status != StatusBusy {
		return false
	}
	return w.CurrentTasks < w.Capacity
}

// HasTags reports whether the worker carries every tag in the list.
func (w *Worker) HasTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, t := range w.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Filter narrows List results.
type Filter struct {
	Status string
	Tags   []string
}

// Metrics is a point-in-time snapshot of cluster totals.
type Metrics struct {
	TotalWorkers  int   `json:"totalWorkers"`
	ActiveWorkers int   `json:"activeWorkers"`
	TotalJobs     int64 `json:"totalJobs"`
	CompletedJobs int64 `json:"completedJobs"`
	FailedJobs    int64 `json:"failedJobs"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// State is the worker registry. All operations are O(1) amortised on the
// hash-indexed worker map; mutations complete while the lock is held, nothing
// suspends under it.
type State struct {
	mu            sync.RWMutex
	workers       map[string]*Worker
	startedAt     time.Time
	totalJobs     int64
	completedJobs int64
	failedJobs    int64
}

func NewState() *State {
	return &State{
		workers:   make(map[string]*Worker),
		startedAt: time.Now(),
	}
}

// Register upserts a worker. Registering an existing id replaces the record:
// a worker that reconnects starts from a clean slate.
func (s *State) Register(w Worker) {
	now := time.Now()
	w.Status = StatusIdle
	w.CurrentTasks = 0
	w.LastHeartbeat = now
	w.RegisteredAt = now
	if w.Capacity < 1 {
		w.Capacity = 1
	}
	if w.Metadata == nil {
		w.Metadata = make(map[string]string)
	}

	s.mu.Lock()
	s.workers[w.ID] = &w
	s.mu.Unlock()

	s.updateGauges()
}

// Deregister removes a worker, returning the final record. Removing an
// unknown id is a no-op distinguishable from success.
func (s *State) Deregister(id string) (Worker, bool) {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
	}
	s.mu.Unlock()

	if !ok {
		return Worker{}, false
	}
	s.updateGauges()
	return *w, true
}

// Get returns a copy of the worker record.
func (s *State) Get(id string) (Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// List returns copies of all workers matching the filter.
func (s *State) List(filter Filter) []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if filter.Status != "" && string(w.Status) != filter.Status {
			continue
		}
		if len(filter.Tags) > 0 && !w.HasTags(filter.Tags) {
			continue
		}
		out = append(out, *w)
	}
	return out
}

// UpdateHeartbeat records a liveness signal. Heartbeats from unknown workers
// are dropped: the worker must re-register before it can contribute. Returns
// whether the worker recovered from Unhealthy.
func (s *State) UpdateHeartbeat(id string, at time.Time) (known, recovered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return false, false
	}

	w.LastHeartbeat = at
	if w.Status == StatusUnhealthy {
		if w.CurrentTasks > 0 {
			w.Status = StatusBusy
		} else {
			w.Status = StatusIdle
		}
		return true, true
	}
	return true, false
}

// SetStatus transitions a worker's status. Used by the health monitor.
func (s *State) SetStatus(id string, status WorkerStatus) bool {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		w.Status = status
	}
	s.mu.Unlock()

	if ok {
		s.updateGauges()
	}
	return ok
}

// IncrementTasks bumps the worker's in-flight count, refusing to exceed
// declared capacity.
func (s *State) IncrementTasks(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok || w.CurrentTasks >= w.Capacity {
		return false
	}
	w.CurrentTasks++
	w.Status = StatusBusy
	return true
}

// DecrementTasks releases one slot and bumps the completed or failed counter.
func (s *State) DecrementTasks(id string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return
	}
	if w.CurrentTasks > 0 {
		w.CurrentTasks--
	}
	if success {
		w.CompletedTasks++
	} else {
		w.FailedTasks++
	}
	if w.CurrentTasks == 0 && w.Status == StatusBusy {
		w.Status = StatusIdle
	}
}

// IncrementJobs counts a submitted job.
func (s *State) IncrementJobs() {
	s.mu.Lock()
	s.totalJobs++
	s.mu.Unlock()
}

// IncrementCompletedJobs counts a job that finished successfully.
func (s *State) IncrementCompletedJobs() {
	s.mu.Lock()
	s.completedJobs++
	s.mu.Unlock()
}

// IncrementFailedJobs counts a job that failed terminally.
func (s *State) IncrementFailedJobs() {
	s.mu.Lock()
	s.failedJobs++
	s.mu.Unlock()
}

// Metrics returns a snapshot of cluster totals.
func (s *State) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, w := range s.workers {
		if w.Status == StatusIdle || w.Status == StatusBusy {
			active++
		}
	}

	return Metrics{
		TotalWorkers:  len(s.workers),
		ActiveWorkers: active,
		TotalJobs:     s.totalJobs,
		CompletedJobs: s.completedJobs,
		FailedJobs:    s.failedJobs,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
}

func (s *State) updateGauges() {
	m := s.Metrics()
	metrics.WorkersRegistered.Set(float64(m.TotalWorkers))
	metrics.WorkersActive.Set(float64(m.ActiveWorkers))
}
