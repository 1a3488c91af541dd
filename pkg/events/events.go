package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a monitoring record describing a lifecycle transition somewhere in
// the system. Events are fire-and-forget: publishing never blocks on slow
// consumers and losing one is not an error.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Lifecycle event types.
const (
	WorkerRegistered   = "worker.registered"
	WorkerDeregistered = "worker.deregistered"
	WorkerUnhealthy    = "worker.unhealthy"
	WorkerFailed       = "worker.failed"
	WorkerRecovered    = "worker.recovered"

	JobSubmitted = "job.submitted"
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
	JobCancelled = "job.cancelled"

	TaskAssigned  = "task.assigned"
	TaskSucceeded = "task.succeeded"
	TaskFailed    = "task.failed"
	TaskRetried   = "task.retried"
	TaskTimedOut  = "task.timed_out"
	TaskReclaimed = "task.reclaimed"

	PluginLoaded   = "plugin.loaded"
	PluginUnloaded = "plugin.unloaded"
	PluginErrored  = "plugin.error"

	RequestBegin      = "request.begin"
	RequestEnd        = "request.end"
	BenchmarkProgress = "benchmark.progress"
	EvaluationScore   = "evaluation.score"
	ErrorOccurred     = "error"
)

// New constructs an event with a fresh id and the current timestamp.
func New(eventType, subject string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   make(map[string]interface{}),
	}
}

// With adds a payload field and returns the event for chaining.
func (e Event) With(key string, value interface{}) Event {
	e.Payload[key] = value
	return e
}
