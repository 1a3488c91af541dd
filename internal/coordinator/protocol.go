package coordinator

import (
	"encoding/json"
	"time"

	"github.com/modelbench-go/internal/coordinator/dispatch"
)

// RegisterRequest announces a worker to the coordinator.
type RegisterRequest struct {
	WorkerID string            `json:"workerId" binding:"required"`
	Address  string            `json:"address"`
	Capacity int               `json:"capacity"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RegisterResponse struct {
	Success            bool   `json:"success"`
	CoordinatorVersion string `json:"coordinatorVersion"`
	AssignedWorkerID   string `json:"assignedWorkerId"`
	HeartbeatInterval  int64  `json:"heartbeatInterval"`
	Message            string `json:"message"`
}

type DeregisterRequest struct {
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason,omitempty"`
}

type DeregisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type HeartbeatRequest struct {
	WorkerID string            `json:"workerId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type HeartbeatResponse struct {
	Acknowledged    bool      `json:"acknowledged"`
	HasPendingTasks bool      `json:"hasPendingTasks"`
	Timestamp       time.Time `json:"timestamp"`
}

// JobRequest submits work. TaskCount splits the job into that many tasks
// sharing the payload; the default is a single task.
type JobRequest struct {
	JobType        string            `json:"jobType" binding:"required"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Priority       int               `json:"priority"`
	TimeoutSeconds int64             `json:"timeoutSeconds"`
	MaxRetries     *int              `json:"maxRetries,omitempty"`
	TaskCount      int               `json:"taskCount"`
	RequiredTags   []string          `json:"requiredTags,omitempty"`
}

type JobResponse struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type JobStatusResponse struct {
	JobID       string          `json:"jobId"`
	Status      string          `json:"status"`
	Progress    float64         `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

type CancelJobRequest struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason,omitempty"`
}

type CancelJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PullTaskRequest struct {
	WorkerID string `json:"workerId"`
	Count    int    `json:"count"`
}

type PullTaskResponse struct {
	Tasks   []dispatch.Task `json:"tasks"`
	Message string          `json:"message"`
}

type ListWorkersRequest struct {
	StatusFilter string   `json:"statusFilter,omitempty"`
	TagFilter    []string `json:"tagFilter,omitempty"`
}

type WorkerSummary struct {
	WorkerID      string    `json:"workerId"`
	Address       string    `json:"address"`
	Status        string    `json:"status"`
	CurrentTasks  int       `json:"currentTasks"`
	Capacity      int       `json:"capacity"`
	Load          float64   `json:"load"`
	Tags          []string  `json:"tags,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

type ListWorkersResponse struct {
	Workers []WorkerSummary `json:"workers"`
	Total   int             `json:"total"`
}

type ClusterStatsResponse struct {
	TotalWorkers   int     `json:"totalWorkers"`
	ActiveWorkers  int     `json:"activeWorkers"`
	TotalJobs      int64   `json:"totalJobs"`
	PendingJobs    int     `json:"pendingJobs"`
	RunningJobs    int     `json:"runningJobs"`
	CompletedJobs  int64   `json:"completedJobs"`
	FailedJobs     int64   `json:"failedJobs"`
	AvgJobDuration float64 `json:"avgJobDuration"`
	UptimeSeconds  int64   `json:"uptimeSeconds"`
}
