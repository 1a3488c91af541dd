package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/modelbench-go/internal/coordinator/cluster"
	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/internal/coordinator/health"
	"github.com/modelbench-go/internal/coordinator/queue"
	"github.com/modelbench-go/internal/coordinator/store"
	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/metrics"
)

// Version is reported to workers at registration.
const Version = "0.4.0"

const defaultTaskTimeout = 300 * time.Second

// Config carries the coordinator's tunables.
type Config struct {
	HeartbeatInterval  time.Duration
	UnhealthyThreshold time.Duration
	MaxRetries         int
	MaxCompletedJobs   int
	EventChannelDepth  int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  10 * time.Second,
		UnhealthyThreshold: 30 * time.Second,
		MaxRetries:         3,
		MaxCompletedJobs:   1000,
		EventChannelDepth:  events.DefaultChannelDepth,
	}
}

// Coordinator is the facade bundling cluster state, job queue, health
// monitoring and task dispatch behind one API. It is a single long-lived
// value shared by the API surface, the dispatcher loop and the health
// monitor; each component guards its own state.
type Coordinator struct {
	config     Config
	cluster    *cluster.State
	jobs       *queue.Queue
	ledger     *dispatch.Ledger
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	bus        *events.Bus
	archive    store.Archive
	logger     logger.Logger
	cron       *cron.Cron
}

// Option customises coordinator construction.
type Option func(*Coordinator)

// WithArchive plugs in an external store for terminal jobs.
func WithArchive(archive store.Archive) Option {
	return func(c *Coordinator) { c.archive = archive }
}

func New(cfg Config, log logger.Logger, opts ...Option) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 30 * time.Second
	}
	if cfg.MaxCompletedJobs <= 0 {
		cfg.MaxCompletedJobs = 1000
	}

	bus := events.NewBus(cfg.EventChannelDepth)
	clusterState := cluster.NewState()
	jobs := queue.New(cfg.MaxCompletedJobs, bus)
	ledger := dispatch.NewLedger()

	c := &Coordinator{
		config:     cfg,
		cluster:    clusterState,
		jobs:       jobs,
		ledger:     ledger,
		dispatcher: dispatch.New(clusterState, jobs, ledger, bus, log),
		monitor:    health.NewMonitor(clusterState, cfg.HeartbeatInterval, cfg.UnhealthyThreshold, bus, log),
		bus:        bus,
		logger:     log,
		cron:       cron.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	jobs.OnTerminal(c.onJobTerminal)

	return c
}

// Start launches the background loops: health monitor, push scheduler and the
// periodic metrics snapshot.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("Starting coordinator",
		"heartbeatInterval", c.config.HeartbeatInterval.String(),
		"unhealthyThreshold", c.config.UnhealthyThreshold.String(),
		"maxRetries", c.config.MaxRetries,
	)

	go c.monitor.Run(ctx)
	go c.dispatcher.Run(ctx)

	if _, err := c.cron.AddFunc("@every 30s", c.snapshotMetrics); err != nil {
		return fmt.Errorf("failed to schedule metrics snapshot: %w", err)
	}
	c.cron.Start()

	return nil
}

// Stop halts the maintenance schedule and closes the archive.
func (c *Coordinator) Stop() {
	c.cron.Stop()
	if c.archive != nil {
		if err := c.archive.Close(); err != nil {
			c.logger.Error("Failed to close job archive", "error", err)
		}
	}
	c.logger.Info("Coordinator stopped")
}

// Bus exposes the event bus for transports that stream events.
func (c *Coordinator) Bus() *events.Bus {
	return c.bus
}

// RegisterWorker upserts a worker record. Registering an existing id is
// treated as a reconnect and replaces the record.
func (c *Coordinator) RegisterWorker(req RegisterRequest) (RegisterResponse, error) {
	if req.WorkerID == "" {
		return RegisterResponse{}, fmt.Errorf("%w: workerId is required", ErrValidation)
	}
	if req.Capacity < 1 {
		req.Capacity = 1
	}

	c.cluster.Register(cluster.Worker{
		ID:       req.WorkerID,
		Address:  req.Address,
		Capacity: req.Capacity,
		Tags:     req.Tags,
		Metadata: req.Metadata,
	})

	c.bus.Publish(events.New(events.WorkerRegistered, req.WorkerID).
		With("address", req.Address).
		With("capacity", req.Capacity))

	c.logger.Info("Worker registered", logger.KeyWorkerID, req.WorkerID, "address", req.Address, "capacity", req.Capacity)

	return RegisterResponse{
		Success:            true,
		CoordinatorVersion: Version,
		AssignedWorkerID:   req.WorkerID,
		HeartbeatInterval:  int64(c.config.HeartbeatInterval.Seconds()),
		Message:            "Worker registered successfully",
	}, nil
}

// DeregisterWorker removes a worker. Its in-flight tasks are reclaimed by the
// next dispatcher scan.
func (c *Coordinator) DeregisterWorker(req DeregisterRequest) (DeregisterResponse, error) {
	_, ok := c.cluster.Deregister(req.WorkerID)
	if !ok {
		return DeregisterResponse{Success: false, Message: "Worker not found"}, ErrWorkerNotFound
	}

	c.bus.Publish(events.New(events.WorkerDeregistered, req.WorkerID).With("reason", req.Reason))
	c.logger.Info("Worker deregistered", logger.KeyWorkerID, req.WorkerID, "reason", req.Reason)

	return DeregisterResponse{Success: true, Message: "Worker deregistered successfully"}, nil
}

// Heartbeat records a liveness signal. Unknown workers are told to
// re-register via an unacknowledged response; nothing else changes.
func (c *Coordinator) Heartbeat(req HeartbeatRequest) HeartbeatResponse {
	known, recovered := c.cluster.UpdateHeartbeat(req.WorkerID, time.Now())
	if recovered {
		c.bus.Publish(events.New(events.WorkerRecovered, req.WorkerID))
		c.logger.Info("Worker recovered", logger.KeyWorkerID, req.WorkerID)
	}

	return HeartbeatResponse{
		Acknowledged:    known,
		HasPendingTasks: c.jobs.HasPending(),
		Timestamp:       time.Now().UTC(),
	}
}

// SubmitJob enqueues a job and returns its server-assigned id.
func (c *Coordinator) SubmitJob(req JobRequest) (JobResponse, error) {
	if req.JobType == "" {
		return JobResponse{}, fmt.Errorf("%w: jobType is required", ErrValidation)
	}
	if req.TaskCount < 1 {
		req.TaskCount = 1
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = int64(defaultTaskTimeout.Seconds())
	}
	maxRetries := c.config.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return JobResponse{}, fmt.Errorf("%w: maxRetries must be >= 0", ErrValidation)
		}
		maxRetries = *req.MaxRetries
	}

	jobID := uuid.New().String()
	tasks := make([]string, req.TaskCount)
	for i := range tasks {
		tasks[i] = dispatch.MintTaskID()
	}

	c.jobs.Submit(&queue.Job{
		ID:             jobID,
		JobType:        req.JobType,
		Payload:        req.Payload,
		Metadata:       req.Metadata,
		Priority:       req.Priority,
		TimeoutSeconds: req.TimeoutSeconds,
		MaxRetries:     maxRetries,
		RequiredTags:   req.RequiredTags,
		Tasks:          tasks,
	})
	c.cluster.IncrementJobs()

	c.logger.Info("Job submitted", logger.KeyJobID, jobID, "jobType", req.JobType, "tasks", len(tasks))

	return JobResponse{
		JobID:   jobID,
		Success: true,
		Message: "Job submitted successfully",
	}, nil
}

// GetJobStatus reads a job, falling back to the archive for ids evicted from
// the completed ring.
func (c *Coordinator) GetJobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	job, ok := c.jobs.Get(jobID)
	if !ok {
		if c.archive == nil {
			return nil, ErrJobNotFound
		}
		archived, err := c.archive.GetJob(ctx, jobID)
		if err != nil {
			return nil, ErrJobNotFound
		}
		job = *archived
	}

	return &JobStatusResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		Progress:    job.Progress(),
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// CancelJob marks a non-terminal job Cancelled. In-flight tasks finish and
// their results are discarded.
func (c *Coordinator) CancelJob(req CancelJobRequest) (CancelJobResponse, error) {
	if _, ok := c.jobs.Get(req.JobID); !ok {
		return CancelJobResponse{Success: false, Message: "Job not found"}, ErrJobNotFound
	}
	if !c.jobs.Cancel(req.JobID, req.Reason) {
		return CancelJobResponse{Success: false, Message: "Job already completed"}, ErrJobTerminal
	}

	c.logger.Info("Job cancelled", logger.KeyJobID, req.JobID, "reason", req.Reason)
	return CancelJobResponse{Success: true, Message: "Job cancelled successfully"}, nil
}

// PullTasks hands ready tasks to a pulling worker.
func (c *Coordinator) PullTasks(req PullTaskRequest) PullTaskResponse {
	if req.Count < 1 {
		req.Count = 1
	}
	tasks, message := c.dispatcher.PullTasks(req.WorkerID, req.Count)
	return PullTaskResponse{Tasks: tasks, Message: message}
}

// CompleteTask settles a worker's report for one task.
func (c *Coordinator) CompleteTask(result dispatch.Result) error {
	return c.dispatcher.CompleteTask(result.TaskID, result)
}

// PendingJobs returns status responses for every pending job.
func (c *Coordinator) PendingJobs() []JobStatusResponse {
	pending := c.jobs.ListPending()
	out := make([]JobStatusResponse, 0, len(pending))
	for _, job := range pending {
		out = append(out, JobStatusResponse{
			JobID:     job.ID,
			Status:    string(job.Status),
			Progress:  job.Progress(),
			CreatedAt: job.CreatedAt,
		})
	}
	return out
}

// ListWorkers returns worker summaries matching the filter.
func (c *Coordinator) ListWorkers(req ListWorkersRequest) ListWorkersResponse {
	workers := c.cluster.List(cluster.Filter{Status: req.StatusFilter, Tags: req.TagFilter})

	sort.Slice(workers, func(i, j int) bool {
		return workers[i].RegisteredAt.Before(workers[j].RegisteredAt)
	})

	summaries := make([]WorkerSummary, 0, len(workers))
	for _, w := range workers {
		summaries = append(summaries, WorkerSummary{
			WorkerID:      w.ID,
			Address:       w.Address,
			Status:        string(w.Status),
			CurrentTasks:  w.CurrentTasks,
			Capacity:      w.Capacity,
			Load:          w.Load(),
			Tags:          w.Tags,
			LastHeartbeat: w.LastHeartbeat,
		})
	}

	return ListWorkersResponse{Workers: summaries, Total: len(summaries)}
}

// ClusterStats aggregates registry and queue metrics.
func (c *Coordinator) ClusterStats() ClusterStatsResponse {
	m := c.cluster.Metrics()
	qs := c.jobs.Stats()

	return ClusterStatsResponse{
		TotalWorkers:   m.TotalWorkers,
		ActiveWorkers:  m.ActiveWorkers,
		TotalJobs:      m.TotalJobs,
		PendingJobs:    qs.Pending,
		RunningJobs:    qs.Running,
		CompletedJobs:  m.CompletedJobs,
		FailedJobs:     m.FailedJobs,
		AvgJobDuration: c.jobs.AverageDuration(),
		UptimeSeconds:  m.UptimeSeconds,
	}
}

// onJobTerminal updates cluster job counters and archives the record.
func (c *Coordinator) onJobTerminal(job *queue.Job) {
	switch job.Status {
	case queue.StatusCompleted:
		c.cluster.IncrementCompletedJobs()
	case queue.StatusFailed:
		c.cluster.IncrementFailedJobs()
	}

	if c.archive != nil {
		snapshot := *job
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.archive.ArchiveJob(ctx, &snapshot); err != nil {
				c.logger.Error("Failed to archive job", logger.KeyJobID, snapshot.ID, "error", err)
			}
		}()
	}
}

// snapshotMetrics publishes a periodic cluster-metrics event and refreshes
// the pending-jobs gauge.
func (c *Coordinator) snapshotMetrics() {
	stats := c.ClusterStats()
	metrics.JobsPending.Set(float64(stats.PendingJobs))

	c.bus.Publish(events.New(events.BenchmarkProgress, "cluster").
		With("totalWorkers", stats.TotalWorkers).
		With("activeWorkers", stats.ActiveWorkers).
		With("pendingJobs", stats.PendingJobs).
		With("runningJobs", stats.RunningJobs))

	c.logger.Debug("Cluster metrics",
		"workers", stats.TotalWorkers,
		"active", stats.ActiveWorkers,
		"pending", stats.PendingJobs,
		"running", stats.RunningJobs,
	)
}
