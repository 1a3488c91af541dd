package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelbench-go/internal/coordinator/cluster"
	"github.com/modelbench-go/pkg/logger"
)

func TestCheckTransitions(t *testing.T) {
	state := cluster.NewState()
	monitor := NewMonitor(state, time.Second, 30*time.Second, nil, logger.NewNop())

	state.Register(cluster.Worker{ID: "w1", Capacity: 1})
	now := time.Now()

	t.Run("FreshWorkerStaysIdle", func(t *testing.T) {
		monitor.Check(now)
		w, _ := state.Get("w1")
		assert.Equal(t, cluster.StatusIdle, w.Status)
	})

	t.Run("SilentPastThresholdGoesUnhealthy", func(t *testing.T) {
		known, _ := state.UpdateHeartbeat("w1", now.Add(-31*time.Second))
		require.True(t, known)

		monitor.Check(now)
		w, _ := state.Get("w1")
		assert.Equal(t, cluster.StatusUnhealthy, w.Status)
	})

	t.Run("SilentPastDoubleThresholdGoesFailed", func(t *testing.T) {
		state.UpdateHeartbeat("w1", now.Add(-61*time.Second))
		// UpdateHeartbeat recovers the worker; silence it again.
		monitor.Check(now)
		monitor.Check(now)

		w, _ := state.Get("w1")
		assert.Equal(t, cluster.StatusFailed, w.Status)
	})

	t.Run("FailedWorkerStaysRegistered", func(t *testing.T) {
		assert.Len(t, state.List(cluster.Filter{}), 1)
	})

	t.Run("HeartbeatRecoversUnhealthyNotFailed", func(t *testing.T) {
		state.Register(cluster.Worker{ID: "w2", Capacity: 1})
		state.UpdateHeartbeat("w2", now.Add(-35*time.Second))
		monitor.Check(now)

		w, _ := state.Get("w2")
		require.Equal(t, cluster.StatusUnhealthy, w.Status)

		_, recovered := state.UpdateHeartbeat("w2", now)
		assert.True(t, recovered)
		w, _ = state.Get("w2")
		assert.Equal(t, cluster.StatusIdle, w.Status)

		_, recovered = state.UpdateHeartbeat("w1", now)
		assert.False(t, recovered)
		w, _ = state.Get("w1")
		assert.Equal(t, cluster.StatusFailed, w.Status)
	})
}
