package queue

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle status of a job. Transitions follow
// Pending → Running → {Completed, Failed, Cancelled}; terminal states are
// immutable.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of submitted work, split into one or more tasks. The job
// queue owns these records.
type Job struct {
	ID             string            `json:"id"`
	JobType        string            `json:"jobType"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         JobStatus         `json:"status"`
	Priority       int               `json:"priority"`
	TimeoutSeconds int64             `json:"timeoutSeconds"`
	MaxRetries     int               `json:"maxRetries"`
	RequiredTags   []string          `json:"requiredTags,omitempty"`
	Tasks          []string          `json:"tasks"`
	DoneTasks      int               `json:"doneTasks"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`

	// index is maintained by the pending heap.
	index int
}

// Progress is completed tasks over total tasks, in [0,1].
func (j *Job) Progress() float64 {
	if len(j.Tasks) == 0 {
		return 0
	}
	return float64(j.DoneTasks) / float64(len(j.Tasks))
}

// Duration is the wall-clock time the job spent from start to completion.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
