package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbench-go/internal/coordinator/cluster"
	"github.com/modelbench-go/internal/coordinator/queue"
	"github.com/modelbench-go/pkg/logger"
)

type fixture struct {
	cluster    *cluster.State
	jobs       *queue.Queue
	ledger     *Ledger
	dispatcher *Dispatcher
}

func newFixture() *fixture {
	c := cluster.NewState()
	q := queue.New(100, nil)
	l := NewLedger()
	return &fixture{
		cluster:    c,
		jobs:       q,
		ledger:     l,
		dispatcher: New(c, q, l, nil, logger.NewNop()),
	}
}

func (f *fixture) submitJob(id string, taskCount, maxRetries int) {
	tasks := make([]string, taskCount)
	for i := range tasks {
		tasks[i] = MintTaskID()
	}
	f.jobs.Submit(&queue.Job{
		ID:             id,
		JobType:        "benchmark",
		Payload:        []byte(`{"prompt":"hello"}`),
		TimeoutSeconds: 60,
		MaxRetries:     maxRetries,
		Tasks:          tasks,
	})
}

func TestPullSingleWorkerHappyPath(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 2})
	f.submitJob("j1", 1, 3)

	tasks, msg := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)
	assert.Equal(t, "assigned", msg)
	assert.Equal(t, TaskAssigned, tasks[0].Status)
	assert.Equal(t, "w1", tasks[0].AssignedTo)

	// The assignment is visible synchronously.
	workerID, ok := f.ledger.Get(tasks[0].ID)
	require.True(t, ok)
	assert.Equal(t, "w1", workerID)

	require.NoError(t, f.dispatcher.CompleteTask(tasks[0].ID, Result{
		TaskID:  tasks[0].ID,
		Success: true,
		Result:  []byte(`{"score":1}`),
	}))

	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusCompleted, job.Status)

	w, _ := f.cluster.Get("w1")
	assert.Equal(t, 0, w.CurrentTasks)
	assert.Equal(t, int64(1), w.CompletedTasks)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestPullBoundedByCapacity(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 3)
	f.submitJob("j2", 1, 3)

	tasks, _ := f.dispatcher.PullTasks("w1", 5)
	require.Len(t, tasks, 1, "pull must not exceed capacity")

	w, _ := f.cluster.Get("w1")
	assert.LessOrEqual(t, w.CurrentTasks, w.Capacity)

	// j2 is still waiting: either pending or ready, but not assigned.
	ready, inflight := f.dispatcher.Stats()
	assert.Equal(t, 1, inflight)
	assert.Equal(t, 1, f.jobs.Stats().Pending+ready)
}

func TestPullUnknownWorker(t *testing.T) {
	f := newFixture()
	f.submitJob("j1", 1, 3)

	tasks, msg := f.dispatcher.PullTasks("ghost", 1)
	assert.Empty(t, tasks)
	assert.Equal(t, "worker not found", msg)
	assert.Equal(t, 1, f.jobs.Stats().Pending)
}

func TestRetryOnFailure(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 2)

	// Fail twice, succeed on the third attempt.
	for attempt := 0; attempt < 2; attempt++ {
		tasks, _ := f.dispatcher.PullTasks("w1", 1)
		require.Len(t, tasks, 1)
		assert.Equal(t, attempt, tasks[0].RetryCount)
		require.NoError(t, f.dispatcher.CompleteTask(tasks[0].ID, Result{
			TaskID: tasks[0].ID,
			Error:  "transient provider error",
		}))
	}

	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
	require.NoError(t, f.dispatcher.CompleteTask(tasks[0].ID, Result{
		TaskID:  tasks[0].ID,
		Success: true,
	}))

	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusCompleted, job.Status)

	w, _ := f.cluster.Get("w1")
	assert.Equal(t, int64(2), w.FailedTasks)
	assert.Equal(t, int64(1), w.CompletedTasks)
}

func TestRetriesExhaustedFailsJob(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 1)

	for attempt := 0; attempt < 2; attempt++ {
		tasks, _ := f.dispatcher.PullTasks("w1", 1)
		require.Len(t, tasks, 1)
		require.NoError(t, f.dispatcher.CompleteTask(tasks[0].ID, Result{
			TaskID: tasks[0].ID,
			Error:  "boom",
		}))
	}

	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "boom")
}

func TestWorkerLossReclaim(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 0)

	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)

	// Health monitoring declared the worker dead.
	f.cluster.SetStatus("w1", cluster.StatusFailed)
	f.dispatcher.Scan(time.Now())

	// No retries left: the job fails with the reclaim reason.
	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "worker lost")
	assert.Equal(t, 0, f.ledger.Len())
}

func TestWorkerLossRetryOnSecondWorker(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 3)

	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)

	f.cluster.SetStatus("w1", cluster.StatusFailed)
	f.dispatcher.Scan(time.Now())

	// A healthy worker picks the retry up.
	f.cluster.Register(cluster.Worker{ID: "w2", Capacity: 1})
	retried, _ := f.dispatcher.PullTasks("w2", 1)
	require.Len(t, retried, 1)
	assert.Equal(t, tasks[0].ID, retried[0].ID)
	assert.Equal(t, 1, retried[0].RetryCount)

	require.NoError(t, f.dispatcher.CompleteTask(retried[0].ID, Result{
		TaskID:  retried[0].ID,
		Success: true,
	}))
	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusCompleted, job.Status)
}

func TestTaskTimeoutReaped(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 0)

	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)

	// Scan well past the declared 60s timeout.
	f.dispatcher.Scan(time.Now().Add(2 * time.Minute))

	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "task timeout")

	w, _ := f.cluster.Get("w1")
	assert.Equal(t, 0, w.CurrentTasks)
}

func TestCancelInFlight(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.submitJob("j1", 1, 3)

	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)

	require.True(t, f.jobs.Cancel("j1", "operator"))

	// The late success report is accepted: worker accounting proceeds, the
	// job result is discarded.
	require.NoError(t, f.dispatcher.CompleteTask(tasks[0].ID, Result{
		TaskID:  tasks[0].ID,
		Success: true,
		Result:  []byte(`{"late":true}`),
	}))

	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusCancelled, job.Status)
	assert.Empty(t, job.Result)

	w, _ := f.cluster.Get("w1")
	assert.Equal(t, int64(1), w.CompletedTasks)
	assert.Equal(t, 0, w.CurrentTasks)
}

func TestPushDispatchPrefersLeastLoaded(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 2})
	f.cluster.Register(cluster.Worker{ID: "w2", Capacity: 2})

	// Load w1 so w2 is the obvious pick.
	f.submitJob("warm", 1, 0)
	tasks, _ := f.dispatcher.PullTasks("w1", 1)
	require.Len(t, tasks, 1)

	f.submitJob("j1", 1, 0)
	f.dispatcher.Scan(time.Now())

	w2Tasks := f.ledger.TasksFor("w2")
	require.Len(t, w2Tasks, 1)
}

func TestPushDispatchRespectsTagAffinity(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "cpu-worker", Capacity: 4})
	f.cluster.Register(cluster.Worker{ID: "gpu-worker", Capacity: 1, Tags: []string{"gpu"}})

	f.jobs.Submit(&queue.Job{
		ID:             "j1",
		JobType:        "benchmark",
		TimeoutSeconds: 60,
		RequiredTags:   []string{"gpu"},
		Tasks:          []string{MintTaskID()},
	})
	f.dispatcher.Scan(time.Now())

	assert.Len(t, f.ledger.TasksFor("gpu-worker"), 1)
	assert.Empty(t, f.ledger.TasksFor("cpu-worker"))
}

func TestPushDispatchLeavesUnmatchableTasksReady(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "cpu-worker", Capacity: 4})

	f.jobs.Submit(&queue.Job{
		ID:             "j1",
		JobType:        "benchmark",
		TimeoutSeconds: 60,
		RequiredTags:   []string{"gpu"},
		Tasks:          []string{MintTaskID()},
	})
	f.dispatcher.Scan(time.Now())

	ready, inflight := f.dispatcher.Stats()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 0, inflight)
}

func TestLedgerNeverDoubleAssigns(t *testing.T) {
	l := NewLedger()
	assert.True(t, l.Put("t1", "w1"))
	assert.False(t, l.Put("t1", "w2"))

	workerID, ok := l.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "w1", workerID)

	workerID, ok = l.Remove("t1")
	require.True(t, ok)
	assert.Equal(t, "w1", workerID)
	assert.Equal(t, 0, l.Len())

	_, ok = l.Remove("t1")
	assert.False(t, ok)
}

func TestCompleteUnknownTask(t *testing.T) {
	f := newFixture()
	err := f.dispatcher.CompleteTask("ghost", Result{TaskID: "ghost", Success: true})
	assert.ErrorIs(t, err, ErrNoAssignment)
}

func TestMultiTaskJobSpansWorkers(t *testing.T) {
	f := newFixture()
	f.cluster.Register(cluster.Worker{ID: "w1", Capacity: 1})
	f.cluster.Register(cluster.Worker{ID: "w2", Capacity: 1})
	f.submitJob("j1", 2, 0)

	t1, _ := f.dispatcher.PullTasks("w1", 1)
	t2, _ := f.dispatcher.PullTasks("w2", 1)
	require.Len(t, t1, 1)
	require.Len(t, t2, 1)
	assert.NotEqual(t, t1[0].ID, t2[0].ID)

	require.NoError(t, f.dispatcher.CompleteTask(t1[0].ID, Result{TaskID: t1[0].ID, Success: true}))
	job, _ := f.jobs.Get("j1")
	assert.Equal(t, queue.StatusRunning, job.Status)

	require.NoError(t, f.dispatcher.CompleteTask(t2[0].ID, Result{TaskID: t2[0].ID, Success: true}))
	job, _ = f.jobs.Get("j1")
	assert.Equal(t, queue.StatusCompleted, job.Status)
}
