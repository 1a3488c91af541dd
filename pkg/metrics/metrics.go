package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator-wide metrics, registered once on the default registry and
// exposed via /metrics on the API surface.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Number of jobs waiting for dispatch",
		},
	)

	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dispatched_total",
			Help: "Total number of tasks handed to workers",
		},
		[]string{"mode"},
	)

	TasksRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_retried_total",
			Help: "Total number of task retry re-enqueues",
		},
	)

	WorkersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_registered",
			Help: "Number of workers currently in the registry",
		},
	)

	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_active",
			Help: "Number of workers in Idle or Busy status",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published on the event bus",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events dropped because a subscriber backlog overflowed",
		},
	)

	PluginExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugin_executions_total",
			Help: "Total number of plugin invocations",
		},
		[]string{"plugin", "status"},
	)

	PluginExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plugin_execution_duration_seconds",
			Help:    "Plugin invocation duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
		[]string{"plugin"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Number of active WebSocket subscribers",
		},
	)
)

// RecordHTTPRequest records an HTTP request outcome.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func RecordHTTPDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordPluginExecution records one plugin invocation.
func RecordPluginExecution(plugin, status string, seconds float64) {
	PluginExecutions.WithLabelValues(plugin, status).Inc()
	PluginExecutionDuration.WithLabelValues(plugin).Observe(seconds)
}
