package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/metrics"
)

// Queue holds pending jobs in priority order, running jobs by id, and the
// most recent terminal jobs in a bounded ring. Get on an evicted id misses:
// the optional archive (wired by the coordinator through OnTerminal) is the
// place evicted history goes.
type Queue struct {
	mu           sync.RWMutex
	pending      pendingHeap
	byID         map[string]*Job
	running      map[string]*Job
	completed    []*Job
	maxCompleted int
	seq          uint64

	bus        *events.Bus
	onTerminal func(*Job)
}

// New creates a queue keeping at most maxCompleted terminal jobs.
func New(maxCompleted int, bus *events.Bus) *Queue {
	if maxCompleted <= 0 {
		maxCompleted = 1000
	}
	return &Queue{
		byID:         make(map[string]*Job),
		running:      make(map[string]*Job),
		maxCompleted: maxCompleted,
		bus:          bus,
	}
}

// OnTerminal installs a hook invoked (outside the queue lock) every time a
// job reaches a terminal status. Used for counters and archiving.
func (q *Queue) OnTerminal(fn func(*Job)) {
	q.mu.Lock()
	q.onTerminal = fn
	q.mu.Unlock()
}

// Submit enqueues a job with initial status Pending.
func (q *Queue) Submit(job *Job) {
	q.mu.Lock()
	job.Status = StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	q.seq++
	heap.Push(&q.pending, &pendingItem{job: job, seq: q.seq})
	q.byID[job.ID] = job
	pendingLen := q.pending.Len()
	q.mu.Unlock()

	metrics.JobsSubmitted.Inc()
	metrics.JobsPending.Set(float64(pendingLen))
	q.publish(events.New(events.JobSubmitted, job.ID).With("jobType", job.JobType))
}

// Next pops the highest-priority pending job, transitions it to Running and
// records its start time. Returns nil when nothing is pending.
func (q *Queue) Next() *Job {
	q.mu.Lock()
	var job *Job
	for q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*pendingItem)
		// Cancelled-while-pending jobs are removed lazily here.
		if item.job.Status != StatusPending {
			continue
		}
		job = item.job
		break
	}
	if job != nil {
		now := time.Now()
		job.Status = StatusRunning
		job.StartedAt = &now
		q.running[job.ID] = job
	}
	pendingLen := q.pending.Len()
	q.mu.Unlock()

	metrics.JobsPending.Set(float64(pendingLen))
	if job != nil {
		q.publish(events.New(events.JobStarted, job.ID))
	}
	return job
}

// Get returns a copy of the job. Jobs evicted from the completed ring are
// gone from the queue's point of view.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.byID[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Cancel marks a non-terminal job Cancelled. In-flight tasks are not
// recalled; their results are discarded on arrival. Returns false for
// unknown or already-terminal jobs.
func (q *Queue) Cancel(id, reason string) bool {
	q.mu.Lock()
	job, ok := q.byID[id]
	if !ok || job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	q.finishLocked(job, StatusCancelled, nil, reason)
	q.mu.Unlock()

	q.afterTerminal(job, events.JobCancelled, reason)
	return true
}

// Complete transitions a job to Completed with its result.
func (q *Queue) Complete(id string, result []byte) bool {
	q.mu.Lock()
	job, ok := q.byID[id]
	if !ok || job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	q.finishLocked(job, StatusCompleted, result, "")
	q.mu.Unlock()

	q.afterTerminal(job, events.JobCompleted, "")
	return true
}

// Fail transitions a job to Failed with an error string.
func (q *Queue) Fail(id, errMsg string) bool {
	q.mu.Lock()
	job, ok := q.byID[id]
	if !ok || job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	q.finishLocked(job, StatusFailed, nil, errMsg)
	q.mu.Unlock()

	q.afterTerminal(job, events.JobFailed, errMsg)
	return true
}

// TaskSucceeded records one finished task; once every task is done the job
// completes with the last result. Results for terminal (e.g. cancelled) jobs
// are discarded.
func (q *Queue) TaskSucceeded(jobID string, result []byte) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	job.DoneTasks++
	done := job.DoneTasks >= len(job.Tasks)
	if done {
		q.finishLocked(job, StatusCompleted, result, "")
	}
	q.mu.Unlock()

	if done {
		q.afterTerminal(job, events.JobCompleted, "")
	}
}

// TaskFailed records a terminal task failure, which fails the whole job.
func (q *Queue) TaskFailed(jobID, errMsg string) {
	q.Fail(jobID, errMsg)
}

// Status returns just the job's status, for cheap terminal checks.
func (q *Queue) Status(id string) (JobStatus, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.byID[id]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// ListPending returns copies of all pending jobs.
func (q *Queue) ListPending() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Job, 0, q.pending.Len())
	for _, item := range q.pending {
		if item.job.Status == StatusPending {
			out = append(out, *item.job)
		}
	}
	return out
}

// HasPending reports whether any job is waiting.
func (q *Queue) HasPending() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, item := range q.pending {
		if item.job.Status == StatusPending {
			return true
		}
	}
	return false
}

// Stats summarises queue depths.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := 0
	for _, item := range q.pending {
		if item.job.Status == StatusPending {
			pending++
		}
	}
	return Stats{
		Pending:   pending,
		Running:   len(q.running),
		Completed: len(q.completed),
	}
}

// AverageDuration is the mean start-to-completion time over the completed
// ring, in seconds. Cancelled and never-started jobs are skipped.
func (q *Queue) AverageDuration() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var total time.Duration
	n := 0
	for _, job := range q.completed {
		if job.Status == StatusCancelled {
			continue
		}
		if d := job.Duration(); d > 0 {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total.Seconds() / float64(n)
}

// finishLocked moves a job to a terminal status and into the completed ring,
// evicting the oldest record past capacity. Caller holds q.mu.
func (q *Queue) finishLocked(job *Job, status JobStatus, result []byte, errMsg string) {
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}

	delete(q.running, job.ID)
	q.completed = append(q.completed, job)
	if len(q.completed) > q.maxCompleted {
		evicted := q.completed[0]
		q.completed = q.completed[1:]
		delete(q.byID, evicted.ID)
	}
}

func (q *Queue) afterTerminal(job *Job, eventType, detail string) {
	metrics.JobsCompleted.WithLabelValues(string(job.Status)).Inc()

	ev := events.New(eventType, job.ID)
	if detail != "" {
		ev = ev.With("reason", detail)
	}
	q.publish(ev)

	q.mu.RLock()
	hook := q.onTerminal
	q.mu.RUnlock()
	if hook != nil {
		hook(job)
	}
}

func (q *Queue) publish(ev events.Event) {
	if q.bus != nil {
		q.bus.Publish(ev)
	}
}

// pendingHeap orders jobs by priority (higher first), then submission order.
type pendingItem struct {
	job *Job
	seq uint64
}

type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].job.index = i
	h[j].job.index = j
}

func (h *pendingHeap) Push(x interface{}) {
	item := x.(*pendingItem)
	item.job.index = len(*h)
	*h = append(*h, item)
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.job.index = -1
	*h = old[:n-1]
	return item
}
