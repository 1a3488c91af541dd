package health

import (
	"context"
	"time"

	"github.com/modelbench-go/internal/coordinator/cluster"
	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
)

// Monitor is the background liveness checker. Each tick it scans the worker
// table: a worker silent past the unhealthy threshold goes Unhealthy, past
// twice the threshold it goes Failed. Failed workers stay in the registry for
// observability but are excluded from dispatch; the dispatcher's scan
// reclaims their tasks.
type Monitor struct {
	cluster   *cluster.State
	bus       *events.Bus
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
}

func NewMonitor(clusterState *cluster.State, interval, unhealthyThreshold time.Duration, bus *events.Bus, log logger.Logger) *Monitor {
	return &Monitor{
		cluster:   clusterState,
		bus:       bus,
		logger:    log,
		interval:  interval,
		threshold: unhealthyThreshold,
	}
}

// Run ticks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(time.Now())
		}
	}
}

// Check performs one scan of the worker table.
func (m *Monitor) Check(now time.Time) {
	for _, w := range m.cluster.List(cluster.Filter{}) {
		elapsed := now.Sub(w.LastHeartbeat)

		switch {
		case elapsed > 2*m.threshold:
			if w.Status == cluster.StatusUnhealthy || w.Status == cluster.StatusIdle || w.Status == cluster.StatusBusy {
				m.cluster.SetStatus(w.ID, cluster.StatusFailed)
				m.logger.Warn("Worker failed", logger.KeyWorkerID, w.ID, "lastSeen", elapsed.String())
				m.publish(events.New(events.WorkerFailed, w.ID).With("lastSeen", elapsed.Seconds()))
			}

		case elapsed > m.threshold:
			if w.Status == cluster.StatusIdle || w.Status == cluster.StatusBusy {
				m.cluster.SetStatus(w.ID, cluster.StatusUnhealthy)
				m.logger.Warn("Worker unhealthy", logger.KeyWorkerID, w.ID, "lastSeen", elapsed.String())
				m.publish(events.New(events.WorkerUnhealthy, w.ID).With("lastSeen", elapsed.Seconds()))
			}
		}
	}
}

func (m *Monitor) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
