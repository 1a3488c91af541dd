package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/pkg/logger"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	return New(cfg, logger.NewNop())
}

func TestRegisterWorker(t *testing.T) {
	c := newCoordinator(t)

	t.Run("Success", func(t *testing.T) {
		resp, err := c.RegisterWorker(RegisterRequest{
			WorkerID: "w1",
			Address:  "localhost:9001",
			Capacity: 4,
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "w1", resp.AssignedWorkerID)
		assert.Equal(t, Version, resp.CoordinatorVersion)
		assert.Equal(t, int64(10), resp.HeartbeatInterval)
	})

	t.Run("ReRegisterKeepsOneRecord", func(t *testing.T) {
		_, err := c.RegisterWorker(RegisterRequest{WorkerID: "w1", Capacity: 8})
		require.NoError(t, err)

		resp := c.ListWorkers(ListWorkersRequest{})
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, 8, resp.Workers[0].Capacity)
	})

	t.Run("MissingIDRejected", func(t *testing.T) {
		_, err := c.RegisterWorker(RegisterRequest{})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestDeregisterWorker(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.RegisterWorker(RegisterRequest{WorkerID: "w1", Capacity: 1})
	require.NoError(t, err)

	resp, err := c.DeregisterWorker(DeregisterRequest{WorkerID: "w1", Reason: "drain"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = c.DeregisterWorker(DeregisterRequest{WorkerID: "w1"})
	assert.ErrorIs(t, err, ErrWorkerNotFound)
	assert.Equal(t, 0, c.ListWorkers(ListWorkersRequest{}).Total)
}

func TestHeartbeat(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.RegisterWorker(RegisterRequest{WorkerID: "w1", Capacity: 1})
	require.NoError(t, err)

	t.Run("AcknowledgedWithPendingFlag", func(t *testing.T) {
		resp := c.Heartbeat(HeartbeatRequest{WorkerID: "w1"})
		assert.True(t, resp.Acknowledged)
		assert.False(t, resp.HasPendingTasks)

		_, err := c.SubmitJob(JobRequest{JobType: "benchmark"})
		require.NoError(t, err)

		resp = c.Heartbeat(HeartbeatRequest{WorkerID: "w1"})
		assert.True(t, resp.Acknowledged)
		assert.True(t, resp.HasPendingTasks)
	})

	t.Run("UnknownWorkerNotAcknowledged", func(t *testing.T) {
		resp := c.Heartbeat(HeartbeatRequest{WorkerID: "ghost"})
		assert.False(t, resp.Acknowledged)
	})
}

func TestSubmitJob(t *testing.T) {
	c := newCoordinator(t)

	t.Run("AssignsServerSideID", func(t *testing.T) {
		resp, err := c.SubmitJob(JobRequest{JobType: "benchmark", TaskCount: 3})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.JobID)

		status, err := c.GetJobStatus(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, "pending", status.Status)
	})

	t.Run("MissingTypeRejected", func(t *testing.T) {
		_, err := c.SubmitJob(JobRequest{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("NegativeRetriesRejected", func(t *testing.T) {
		neg := -1
		_, err := c.SubmitJob(JobRequest{JobType: "benchmark", MaxRetries: &neg})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestGetJobStatusUnknown(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.GetJobStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelJob(t *testing.T) {
	c := newCoordinator(t)
	resp, err := c.SubmitJob(JobRequest{JobType: "benchmark"})
	require.NoError(t, err)

	t.Run("CancelPending", func(t *testing.T) {
		cancelResp, err := c.CancelJob(CancelJobRequest{JobID: resp.JobID, Reason: "test"})
		require.NoError(t, err)
		assert.True(t, cancelResp.Success)

		status, err := c.GetJobStatus(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, "cancelled", status.Status)
	})

	t.Run("CancelTerminalConflicts", func(t *testing.T) {
		_, err := c.CancelJob(CancelJobRequest{JobID: resp.JobID})
		assert.ErrorIs(t, err, ErrJobTerminal)
	})

	t.Run("CancelUnknownNotFound", func(t *testing.T) {
		_, err := c.CancelJob(CancelJobRequest{JobID: "nope"})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestEndToEndPullAndComplete(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.RegisterWorker(RegisterRequest{WorkerID: "w1", Capacity: 2})
	require.NoError(t, err)

	submitResp, err := c.SubmitJob(JobRequest{JobType: "benchmark"})
	require.NoError(t, err)

	pullResp := c.PullTasks(PullTaskRequest{WorkerID: "w1", Count: 1})
	require.Len(t, pullResp.Tasks, 1)

	require.NoError(t, c.CompleteTask(dispatch.Result{
		TaskID:  pullResp.Tasks[0].ID,
		Success: true,
		Result:  []byte(`{"score":0.95}`),
	}))

	status, err := c.GetJobStatus(context.Background(), submitResp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)

	stats := c.ClusterStats()
	assert.Equal(t, int64(1), stats.CompletedJobs)
	assert.Equal(t, int64(1), stats.TotalJobs)
	assert.Equal(t, 0, stats.PendingJobs)

	workers := c.ListWorkers(ListWorkersRequest{})
	require.Equal(t, 1, workers.Total)
	assert.Equal(t, 0, workers.Workers[0].CurrentTasks)
}

func TestEventsEmittedOnMutations(t *testing.T) {
	c := newCoordinator(t)
	sub := c.Bus().Subscribe()
	defer sub.Unsubscribe()

	_, err := c.RegisterWorker(RegisterRequest{WorkerID: "w1", Capacity: 1})
	require.NoError(t, err)
	_, err = c.SubmitJob(JobRequest{JobType: "benchmark"})
	require.NoError(t, err)

	var types []string
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sub.C():
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("expected 2 events, got %v", types)
		}
	}
	assert.Equal(t, []string{"worker.registered", "job.submitted"}, types)
}
