package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, priority int) *Job {
	return &Job{
		ID:       id,
		JobType:  "benchmark",
		Priority: priority,
		Tasks:    []string{id + "-t1"},
	}
}

func TestOrdering(t *testing.T) {
	t.Run("FIFOByDefault", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("a", 0))
		q.Submit(newJob("b", 0))
		q.Submit(newJob("c", 0))

		assert.Equal(t, "a", q.Next().ID)
		assert.Equal(t, "b", q.Next().ID)
		assert.Equal(t, "c", q.Next().ID)
		assert.Nil(t, q.Next())
	})

	t.Run("PriorityOverridesWithFIFOTies", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("low", 0))
		q.Submit(newJob("high", 5))
		q.Submit(newJob("high2", 5))

		assert.Equal(t, "high", q.Next().ID)
		assert.Equal(t, "high2", q.Next().ID)
		assert.Equal(t, "low", q.Next().ID)
	})
}

func TestNextTransitionsToRunning(t *testing.T) {
	q := New(10, nil)
	q.Submit(newJob("a", 0))

	job := q.Next()
	require.NotNil(t, job)
	assert.Equal(t, StatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.False(t, job.StartedAt.Before(job.CreatedAt))
}

func TestCancel(t *testing.T) {
	t.Run("PendingJob", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("a", 0))

		assert.True(t, q.Cancel("a", "operator request"))
		job, ok := q.Get("a")
		require.True(t, ok)
		assert.Equal(t, StatusCancelled, job.Status)
		assert.Equal(t, "operator request", job.Error)

		// Cancelled-while-pending jobs never come out of Next.
		assert.Nil(t, q.Next())
	})

	t.Run("CancelOfCancelledReturnsFalse", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("a", 0))
		require.True(t, q.Cancel("a", "first"))

		assert.False(t, q.Cancel("a", "second"))
		job, _ := q.Get("a")
		assert.Equal(t, StatusCancelled, job.Status)
		assert.Equal(t, "first", job.Error)
	})

	t.Run("UnknownReturnsFalse", func(t *testing.T) {
		q := New(10, nil)
		assert.False(t, q.Cancel("nope", ""))
	})
}

func TestTaskCompletion(t *testing.T) {
	t.Run("LastTaskCompletesJob", func(t *testing.T) {
		q := New(10, nil)
		job := newJob("a", 0)
		job.Tasks = []string{"t1", "t2"}
		q.Submit(job)
		q.Next()

		q.TaskSucceeded("a", nil)
		got, _ := q.Get("a")
		assert.Equal(t, StatusRunning, got.Status)
		assert.InDelta(t, 0.5, got.Progress(), 1e-9)

		q.TaskSucceeded("a", []byte(`{"score":0.9}`))
		got, _ = q.Get("a")
		assert.Equal(t, StatusCompleted, got.Status)
		assert.InDelta(t, 1.0, got.Progress(), 1e-9)
		assert.JSONEq(t, `{"score":0.9}`, string(got.Result))
	})

	t.Run("ResultForCancelledJobDiscarded", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("a", 0))
		q.Next()
		require.True(t, q.Cancel("a", "changed my mind"))

		q.TaskSucceeded("a", []byte(`{"late":true}`))
		got, _ := q.Get("a")
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Empty(t, got.Result)
	})

	t.Run("TaskFailureFailsJob", func(t *testing.T) {
		q := New(10, nil)
		q.Submit(newJob("a", 0))
		q.Next()

		q.TaskFailed("a", "worker lost")
		got, _ := q.Get("a")
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.Error, "worker lost")
	})
}

func TestTerminalTimestamps(t *testing.T) {
	q := New(10, nil)
	q.Submit(newJob("a", 0))
	q.Next()
	q.Complete("a", nil)

	job, _ := q.Get("a")
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.StartedAt.Before(job.CreatedAt))
	assert.False(t, job.CompletedAt.Before(*job.StartedAt))
}

func TestCompletedRingEviction(t *testing.T) {
	q := New(2, nil)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		q.Submit(newJob(id, 0))
		q.Next()
		q.Complete(id, nil)
	}

	_, ok := q.Get("job-0")
	assert.False(t, ok, "evicted job should be gone")
	_, ok = q.Get("job-1")
	assert.False(t, ok, "evicted job should be gone")
	_, ok = q.Get("job-2")
	assert.True(t, ok)
	_, ok = q.Get("job-3")
	assert.True(t, ok)
	assert.Equal(t, 2, q.Stats().Completed)
}

func TestStats(t *testing.T) {
	q := New(10, nil)
	q.Submit(newJob("a", 0))
	q.Submit(newJob("b", 0))
	q.Next()

	stats := q.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 0, stats.Completed)
	assert.True(t, q.HasPending())
}

func TestAverageDuration(t *testing.T) {
	q := New(10, nil)

	q.Submit(newJob("a", 0))
	job := q.Next()
	started := time.Now().Add(-2 * time.Second)
	job.StartedAt = &started
	q.Complete("a", nil)

	avg := q.AverageDuration()
	assert.Greater(t, avg, 1.0)
}
