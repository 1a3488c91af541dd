package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/resilience"
)

// AgentConfig tunes one worker process.
type AgentConfig struct {
	WorkerID     string
	Address      string
	Capacity     int
	Tags         []string
	PollInterval time.Duration
	AuthUser     string
	AuthPassword string
}

// Agent is the worker side of the protocol: register, heartbeat on the
// assigned interval, pull up to the free capacity, execute, report. Capacity
// is enforced locally with a semaphore, which is what makes pull-based
// backpressure work.
type Agent struct {
	config    AgentConfig
	client    *Client
	registry  *Registry
	logger    logger.Logger
	semaphore chan struct{}

	mu      sync.Mutex
	running int
	wg      sync.WaitGroup
}

func NewAgent(cfg AgentConfig, client *Client, registry *Registry, log logger.Logger) *Agent {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.New().String()
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &Agent{
		config:    cfg,
		client:    client,
		registry:  registry,
		logger:    logger.WithWorker(log, cfg.WorkerID),
		semaphore: make(chan struct{}, cfg.Capacity),
	}
}

// Run registers, then drives the heartbeat and poll loops until the context
// is cancelled, deregistering on the way out.
func (a *Agent) Run(ctx context.Context) error {
	if a.config.AuthUser != "" {
		if err := a.client.Authenticate(ctx, a.config.AuthUser, a.config.AuthPassword); err != nil {
			return err
		}
	}

	resp, err := a.client.Register(ctx, coordinator.RegisterRequest{
		WorkerID: a.config.WorkerID,
		Address:  a.config.Address,
		Capacity: a.config.Capacity,
		Tags:     a.config.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	heartbeatInterval := time.Duration(resp.HeartbeatInterval) * time.Second
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	a.client.TuneBreaker(heartbeatInterval)
	a.logger.Info("Registered with coordinator",
		"coordinatorVersion", resp.CoordinatorVersion,
		"heartbeatInterval", heartbeatInterval.String(),
	)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(a.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil

		case <-heartbeat.C:
			hb, err := a.client.Heartbeat(ctx, a.config.WorkerID, systemMetadata())
			if err != nil {
				if errors.Is(err, resilience.ErrCoordinatorUnavailable) {
					a.logger.Debug("Skipping heartbeat, circuit open")
				} else {
					a.logger.Warn("Heartbeat failed", "error", err)
				}
				continue
			}
			if !hb.Acknowledged {
				// The coordinator forgot us (restart, eviction): re-register.
				a.logger.Warn("Heartbeat not acknowledged, re-registering")
				if _, err := a.client.Register(ctx, coordinator.RegisterRequest{
					WorkerID: a.config.WorkerID,
					Address:  a.config.Address,
					Capacity: a.config.Capacity,
					Tags:     a.config.Tags,
				}); err != nil {
					a.logger.Error("Re-registration failed", "error", err)
				}
				continue
			}
			if hb.HasPendingTasks {
				a.pull(ctx)
			}

		case <-poll.C:
			a.pull(ctx)
		}
	}
}

// pull requests as many tasks as there are free slots and launches them.
func (a *Agent) pull(ctx context.Context) {
	free := a.freeSlots()
	if free == 0 {
		return
	}

	tasks, err := a.client.PullTasks(ctx, a.config.WorkerID, free)
	if err != nil {
		if errors.Is(err, resilience.ErrCoordinatorUnavailable) {
			a.logger.Debug("Skipping pull, circuit open")
		} else {
			a.logger.Warn("Pull failed", "error", err)
		}
		return
	}

	for _, task := range tasks {
		a.semaphore <- struct{}{}
		a.trackStart()
		a.wg.Add(1)

		go func(task dispatch.Task) {
			defer func() {
				<-a.semaphore
				a.trackEnd()
				a.wg.Done()
			}()
			a.execute(ctx, task)
		}(task)
	}
}

// execute runs one task under its declared timeout and reports the outcome.
func (a *Agent) execute(ctx context.Context, task dispatch.Task) {
	log := logger.WithTask(a.logger, task.JobID, task.ID).With("taskType", task.TaskType)
	log.Info("Executing task")

	taskCtx := ctx
	if task.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result := dispatch.Result{TaskID: task.ID}

	executor, err := a.registry.Lookup(task.TaskType)
	if err == nil {
		var output json.RawMessage
		output, err = executor.Execute(taskCtx, task)
		result.Result = output
	}

	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		log.Warn("Task failed", "error", err)
	} else {
		result.Success = true
		log.Info("Task completed", "durationMs", result.Duration)
	}

	// Report with a fresh context so a cancelled run loop can still flush.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.client.CompleteTask(reportCtx, result); err != nil {
		log.Error("Failed to report task completion", "error", err)
	}
}

// shutdown waits for in-flight tasks and deregisters.
func (a *Agent) shutdown() {
	a.logger.Info("Draining worker")
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.client.Deregister(ctx, a.config.WorkerID, "shutdown"); err != nil {
		a.logger.Warn("Failed to deregister", "error", err)
	}
	a.logger.Info("Worker stopped")
}

func (a *Agent) freeSlots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config.Capacity - a.running
}

func (a *Agent) trackStart() {
	a.mu.Lock()
	a.running++
	a.mu.Unlock()
}

func (a *Agent) trackEnd() {
	a.mu.Lock()
	a.running--
	a.mu.Unlock()
}
