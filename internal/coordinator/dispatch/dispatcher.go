package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelbench-go/internal/coordinator/cluster"
	"github.com/modelbench-go/internal/coordinator/queue"
	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/metrics"
)

// ErrNoAssignment is returned when a completion arrives for a task the ledger
// does not know, e.g. one already reclaimed from a failed worker.
var ErrNoAssignment = errors.New("no assignment recorded for task")

const schedulerTick = time.Second

// Dispatcher matches ready tasks to workers with spare capacity. Two modes
// coexist: workers pull up to their free capacity, and a one-second scheduler
// loop pushes remaining ready tasks to the least-loaded eligible worker. The
// same loop reaps timed-out tasks and reclaims tasks held by failed workers.
type Dispatcher struct {
	cluster *cluster.State
	jobs    *queue.Queue
	ledger  *Ledger
	bus     *events.Bus
	logger  logger.Logger

	mu       sync.Mutex
	ready    []*Task
	inflight map[string]*Task
}

func New(clusterState *cluster.State, jobs *queue.Queue, ledger *Ledger, bus *events.Bus, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cluster:  clusterState,
		jobs:     jobs,
		ledger:   ledger,
		bus:      bus,
		logger:   log,
		inflight: make(map[string]*Task),
	}
}

// Run drives the push scheduler until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Scan(time.Now())
		}
	}
}

// PullTasks hands out up to count tasks to the worker, bounded by its free
// capacity. Assignments are recorded in the ledger before the tasks are
// returned, so a completion arriving immediately after the response always
// finds its entry. An unknown worker gets an empty, non-fatal response.
func (d *Dispatcher) PullTasks(workerID string, count int) ([]Task, string) {
	worker, ok := d.cluster.Get(workerID)
	if !ok {
		return nil, "worker not found"
	}
	if worker.Status != cluster.StatusIdle && worker.Status != cluster.StatusBusy {
		return nil, "worker not eligible for dispatch"
	}

	available := worker.Capacity - worker.CurrentTasks
	if count < available {
		available = count
	}
	if available <= 0 {
		return nil, "worker at capacity"
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Task
	for len(out) < available {
		task := d.nextReadyLocked()
		if task == nil {
			break
		}
		if !d.assignLocked(task, workerID, "pull") {
			// Capacity raced away; put the task back for the scheduler.
			d.ready = append([]*Task{task}, d.ready...)
			break
		}
		out = append(out, *task)
	}

	if len(out) == 0 {
		return nil, "no tasks available"
	}
	return out, "assigned"
}

// CompleteTask settles a worker's report: releases the worker slot, updates
// its counters, removes the ledger entry and forwards the outcome to the job
// queue. A failed result with retries left re-enqueues a fresh task.
func (d *Dispatcher) CompleteTask(taskID string, result Result) error {
	workerID, ok := d.ledger.Remove(taskID)
	if !ok {
		return ErrNoAssignment
	}

	d.cluster.DecrementTasks(workerID, result.Success)

	d.mu.Lock()
	task, ok := d.inflight[taskID]
	if ok {
		delete(d.inflight, taskID)
	}
	d.mu.Unlock()

	if !ok {
		return ErrNoAssignment
	}

	if result.Success {
		task.Status = TaskSucceeded
		d.publish(events.New(events.TaskSucceeded, task.ID).With("jobId", task.JobID).With("workerId", workerID))
		d.jobs.TaskSucceeded(task.JobID, result.Result)
		return nil
	}

	d.retryOrFail(task, result.Error, false)
	return nil
}

// Scan is one scheduler tick: reap expired assignments, reclaim tasks from
// failed workers, then push-dispatch what is ready.
func (d *Dispatcher) Scan(now time.Time) {
	d.reclaim(now)
	d.pushDispatch()
}

// Stats reports dispatcher depths.
func (d *Dispatcher) Stats() (ready, inflight int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready), len(d.inflight)
}

// nextReadyLocked pops the next dispatchable task, refilling from the job
// queue when the ready list runs dry. Tasks whose job already reached a
// terminal status are dropped here. Caller holds d.mu.
func (d *Dispatcher) nextReadyLocked() *Task {
	for {
		for len(d.ready) > 0 {
			task := d.ready[0]
			d.ready = d.ready[1:]
			if status, ok := d.jobs.Status(task.JobID); !ok || status.Terminal() {
				continue
			}
			return task
		}

		job := d.jobs.Next()
		if job == nil {
			return nil
		}
		for _, taskID := range job.Tasks {
			d.ready = append(d.ready, &Task{
				ID:             taskID,
				JobID:          job.ID,
				TaskType:       job.JobType,
				Payload:        job.Payload,
				Metadata:       job.Metadata,
				TimeoutSeconds: job.TimeoutSeconds,
				MaxRetries:     job.MaxRetries,
				RequiredTags:   job.RequiredTags,
				Status:         TaskReady,
			})
		}
	}
}

// assignLocked records the assignment synchronously: ledger entry first, then
// the worker slot. Never exceeds capacity, never double-assigns. Caller holds
// d.mu.
func (d *Dispatcher) assignLocked(task *Task, workerID, mode string) bool {
	if !d.ledger.Put(task.ID, workerID) {
		d.logger.Error("Task already assigned", logger.KeyTaskID, task.ID, logger.KeyWorkerID, workerID)
		return false
	}
	if !d.cluster.IncrementTasks(workerID) {
		d.ledger.Remove(task.ID)
		return false
	}

	task.Status = TaskAssigned
	task.AssignedTo = workerID
	task.AssignedAt = time.Now()
	d.inflight[task.ID] = task

	metrics.TasksDispatched.WithLabelValues(mode).Inc()
	d.publish(events.New(events.TaskAssigned, task.ID).
		With("jobId", task.JobID).
		With("workerId", workerID).
		With("retryCount", task.RetryCount))
	return true
}

// reclaim releases assignments whose worker failed or whose task ran past its
// declared timeout, re-enqueueing retries and failing exhausted tasks.
func (d *Dispatcher) reclaim(now time.Time) {
	type victim struct {
		task    *Task
		reason  string
		timeout bool
	}

	d.mu.Lock()
	var victims []victim
	for _, task := range d.inflight {
		if task.TimeoutSeconds > 0 && now.Sub(task.AssignedAt) > time.Duration(task.TimeoutSeconds)*time.Second {
			victims = append(victims, victim{task: task, reason: "task timeout", timeout: true})
			continue
		}
		worker, ok := d.cluster.Get(task.AssignedTo)
		if !ok || worker.Status == cluster.StatusFailed {
			victims = append(victims, victim{task: task, reason: "worker lost"})
		}
	}
	for _, v := range victims {
		delete(d.inflight, v.task.ID)
	}
	d.mu.Unlock()

	for _, v := range victims {
		workerID, _ := d.ledger.Remove(v.task.ID)
		if workerID != "" {
			d.cluster.DecrementTasks(workerID, false)
		}
		d.publish(events.New(events.TaskReclaimed, v.task.ID).
			With("jobId", v.task.JobID).
			With("workerId", workerID).
			With("reason", v.reason))
		d.logger.Warn("Reclaimed task", logger.KeyTaskID, v.task.ID, logger.KeyWorkerID, workerID, "reason", v.reason)
		d.retryOrFail(v.task, v.reason, v.timeout)
	}
}

// retryOrFail re-enqueues a fresh task while retries remain; past the budget
// the task is terminal and the parent job fails.
func (d *Dispatcher) retryOrFail(task *Task, reason string, timedOut bool) {
	if task.RetryCount < task.MaxRetries {
		retry := *task
		retry.RetryCount++
		retry.Status = TaskReady
		retry.AssignedTo = ""
		retry.AssignedAt = time.Time{}

		d.mu.Lock()
		d.ready = append(d.ready, &retry)
		d.mu.Unlock()

		metrics.TasksRetried.Inc()
		d.publish(events.New(events.TaskRetried, task.ID).
			With("jobId", task.JobID).
			With("retryCount", retry.RetryCount).
			With("reason", reason))
		return
	}

	if timedOut {
		task.Status = TaskTimedOut
		d.publish(events.New(events.TaskTimedOut, task.ID).With("jobId", task.JobID))
	} else {
		task.Status = TaskFailed
		d.publish(events.New(events.TaskFailed, task.ID).With("jobId", task.JobID).With("reason", reason))
	}
	d.jobs.TaskFailed(task.JobID, reason)
}

// pushDispatch assigns ready tasks to eligible workers: minimise load, break
// ties by earliest registration, respect tag affinity.
func (d *Dispatcher) pushDispatch() {
	workers := d.cluster.List(cluster.Filter{})
	candidates := make([]*cluster.Worker, 0, len(workers))
	for i := range workers {
		if workers[i].Eligible() {
			candidates = append(candidates, &workers[i])
		}
	}
	if len(candidates) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var leftover []*Task
	for {
		task := d.nextReadyLocked()
		if task == nil {
			break
		}

		assigned := false
		for {
			w := selectWorker(candidates, task.RequiredTags)
			if w == nil {
				break
			}
			if d.assignLocked(task, w.ID, "push") {
				w.CurrentTasks++
				assigned = true
				break
			}
			// Stale candidate; drop it and try the next one.
			candidates = removeWorker(candidates, w.ID)
		}

		if !assigned {
			leftover = append(leftover, task)
			if len(candidates) == 0 {
				break
			}
		}
	}

	d.ready = append(leftover, d.ready...)
}

// selectWorker picks the least-loaded candidate with all required tags and
// spare capacity, breaking ties by earliest registration.
func selectWorker(candidates []*cluster.Worker, requiredTags []string) *cluster.Worker {
	var selected *cluster.Worker
	for _, w := range candidates {
		if w.CurrentTasks >= w.Capacity {
			continue
		}
		if !w.HasTags(requiredTags) {
			continue
		}
		if selected == nil {
			selected = w
			continue
		}
		if w.Load() < selected.Load() ||
			(w.Load() == selected.Load() && w.RegisteredAt.Before(selected.RegisteredAt)) {
			selected = w
		}
	}
	return selected
}

func removeWorker(candidates []*cluster.Worker, id string) []*cluster.Worker {
	out := candidates[:0]
	for _, w := range candidates {
		if w.ID != id {
			out = append(out, w)
		}
	}
	return out
}

// MintTaskID generates a fresh task identifier.
func MintTaskID() string {
	return uuid.New().String()
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}
