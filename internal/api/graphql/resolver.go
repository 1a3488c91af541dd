package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/graph-gophers/graphql-go"

	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/plugins"
	"github.com/modelbench-go/pkg/logger"
)

// ErrUnauthenticated is returned by mutation resolvers called without a
// valid token subject in the request context.
var ErrUnauthenticated = errors.New("authentication required")

type contextKey string

// SubjectContextKey carries the authenticated subject into resolvers.
const SubjectContextKey contextKey = "auth_subject"

// Resolver is the root resolver over the coordinator facade.
type Resolver struct {
	coord   *coordinator.Coordinator
	plugins *plugins.Manager
	logger  logger.Logger
}

func NewResolver(coord *coordinator.Coordinator, pluginManager *plugins.Manager, log logger.Logger) *Resolver {
	return &Resolver{coord: coord, plugins: pluginManager, logger: log}
}

// ParseSchema builds the executable schema.
func ParseSchema(r *Resolver) *graphql.Schema {
	return graphql.MustParseSchema(Schema, r, graphql.UseFieldResolvers())
}

func requireSubject(ctx context.Context) error {
	if subject, _ := ctx.Value(SubjectContextKey).(string); subject == "" {
		return ErrUnauthenticated
	}
	return nil
}

// --- Query ---

func (r *Resolver) Job(ctx context.Context, args struct{ ID graphql.ID }) (*JobResolver, error) {
	status, err := r.coord.GetJobStatus(ctx, string(args.ID))
	if err != nil {
		if errors.Is(err, coordinator.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return newJobResolver(status), nil
}

func (r *Resolver) PendingJobs(ctx context.Context) ([]*JobResolver, error) {
	pending := r.coord.PendingJobs()
	out := make([]*JobResolver, 0, len(pending))
	for i := range pending {
		out = append(out, newJobResolver(&pending[i]))
	}
	return out, nil
}

func (r *Resolver) Workers(ctx context.Context, args struct {
	Status *string
	Tags   *[]string
}) ([]*WorkerResolver, error) {
	req := coordinator.ListWorkersRequest{}
	if args.Status != nil {
		req.StatusFilter = *args.Status
	}
	if args.Tags != nil {
		req.TagFilter = *args.Tags
	}

	resp := r.coord.ListWorkers(req)
	out := make([]*WorkerResolver, 0, len(resp.Workers))
	for i := range resp.Workers {
		out = append(out, &WorkerResolver{summary: resp.Workers[i]})
	}
	return out, nil
}

func (r *Resolver) ClusterStats(ctx context.Context) (*ClusterStatsResolver, error) {
	return &ClusterStatsResolver{stats: r.coord.ClusterStats()}, nil
}

func (r *Resolver) Plugins(ctx context.Context) ([]*PluginResolver, error) {
	infos := r.plugins.List()
	out := make([]*PluginResolver, 0, len(infos))
	for i := range infos {
		out = append(out, &PluginResolver{info: infos[i]})
	}
	return out, nil
}

func (r *Resolver) Plugin(ctx context.Context, args struct{ ID graphql.ID }) (*PluginResolver, error) {
	info, ok := r.plugins.Get(string(args.ID))
	if !ok {
		return nil, nil
	}
	return &PluginResolver{info: info}, nil
}

// --- Mutation ---

type SubmitJobInput struct {
	JobType        string
	Payload        *string
	Priority       *int32
	TaskCount      *int32
	TimeoutSeconds *int32
	MaxRetries     *int32
	RequiredTags   *[]string
}

type SubmitJobPayload struct {
	JobID   graphql.ID
	Success bool
	Message string
}

func (r *Resolver) SubmitJob(ctx context.Context, args struct{ Input SubmitJobInput }) (*SubmitJobPayload, error) {
	if err := requireSubject(ctx); err != nil {
		return nil, err
	}

	req := coordinator.JobRequest{JobType: args.Input.JobType}
	if args.Input.Payload != nil {
		req.Payload = json.RawMessage(*args.Input.Payload)
	}
	if args.Input.Priority != nil {
		req.Priority = int(*args.Input.Priority)
	}
	if args.Input.TaskCount != nil {
		req.TaskCount = int(*args.Input.TaskCount)
	}
	if args.Input.TimeoutSeconds != nil {
		req.TimeoutSeconds = int64(*args.Input.TimeoutSeconds)
	}
	if args.Input.MaxRetries != nil {
		retries := int(*args.Input.MaxRetries)
		req.MaxRetries = &retries
	}
	if args.Input.RequiredTags != nil {
		req.RequiredTags = *args.Input.RequiredTags
	}

	resp, err := r.coord.SubmitJob(req)
	if err != nil {
		return nil, err
	}
	return &SubmitJobPayload{
		JobID:   graphql.ID(resp.JobID),
		Success: resp.Success,
		Message: resp.Message,
	}, nil
}

func (r *Resolver) CancelJob(ctx context.Context, args struct {
	ID     graphql.ID
	Reason *string
}) (bool, error) {
	if err := requireSubject(ctx); err != nil {
		return false, err
	}

	reason := ""
	if args.Reason != nil {
		reason = *args.Reason
	}
	resp, err := r.coord.CancelJob(coordinator.CancelJobRequest{JobID: string(args.ID), Reason: reason})
	if err != nil {
		// Cancel of a missing or terminal job is reported as false, not as a
		// transport-level error.
		return false, nil
	}
	return resp.Success, nil
}

type RegisterWorkerInput struct {
	WorkerID graphql.ID
	Address  *string
	Capacity *int32
	Tags     *[]string
}

type RegisterWorkerPayload struct {
	Success            bool
	AssignedWorkerID   graphql.ID
	HeartbeatInterval  int32
	CoordinatorVersion string
}

func (r *Resolver) RegisterWorker(ctx context.Context, args struct{ Input RegisterWorkerInput }) (*RegisterWorkerPayload, error) {
	if err := requireSubject(ctx); err != nil {
		return nil, err
	}

	req := coordinator.RegisterRequest{WorkerID: string(args.Input.WorkerID)}
	if args.Input.Address != nil {
		req.Address = *args.Input.Address
	}
	if args.Input.Capacity != nil {
		req.Capacity = int(*args.Input.Capacity)
	}
	if args.Input.Tags != nil {
		req.Tags = *args.Input.Tags
	}

	resp, err := r.coord.RegisterWorker(req)
	if err != nil {
		return nil, err
	}
	return &RegisterWorkerPayload{
		Success:            resp.Success,
		AssignedWorkerID:   graphql.ID(resp.AssignedWorkerID),
		HeartbeatInterval:  int32(resp.HeartbeatInterval),
		CoordinatorVersion: resp.CoordinatorVersion,
	}, nil
}

func (r *Resolver) DeregisterWorker(ctx context.Context, args struct {
	ID     graphql.ID
	Reason *string
}) (bool, error) {
	if err := requireSubject(ctx); err != nil {
		return false, err
	}

	reason := ""
	if args.Reason != nil {
		reason = *args.Reason
	}
	resp, err := r.coord.DeregisterWorker(coordinator.DeregisterRequest{WorkerID: string(args.ID), Reason: reason})
	if err != nil {
		return false, nil
	}
	return resp.Success, nil
}

// --- Type resolvers ---

type JobResolver struct {
	status *coordinator.JobStatusResponse
}

func newJobResolver(status *coordinator.JobStatusResponse) *JobResolver {
	return &JobResolver{status: status}
}

func (j *JobResolver) JobID() graphql.ID { return graphql.ID(j.status.JobID) }
func (j *JobResolver) Status() string    { return j.status.Status }
func (j *JobResolver) Progress() float64 { return j.status.Progress }

func (j *JobResolver) Result() *string {
	if len(j.status.Result) == 0 {
		return nil
	}
	s := string(j.status.Result)
	return &s
}

func (j *JobResolver) Error() *string {
	if j.status.Error == "" {
		return nil
	}
	return &j.status.Error
}

func (j *JobResolver) CreatedAt() string {
	return j.status.CreatedAt.Format(time.RFC3339)
}

func (j *JobResolver) StartedAt() *string   { return formatTime(j.status.StartedAt) }
func (j *JobResolver) CompletedAt() *string { return formatTime(j.status.CompletedAt) }

type WorkerResolver struct {
	summary coordinator.WorkerSummary
}

func (w *WorkerResolver) WorkerID() graphql.ID { return graphql.ID(w.summary.WorkerID) }
func (w *WorkerResolver) Address() string      { return w.summary.Address }
func (w *WorkerResolver) Status() string       { return w.summary.Status }
func (w *WorkerResolver) CurrentTasks() int32  { return int32(w.summary.CurrentTasks) }
func (w *WorkerResolver) Capacity() int32      { return int32(w.summary.Capacity) }
func (w *WorkerResolver) Load() float64        { return w.summary.Load }

func (w *WorkerResolver) Tags() []string {
	if w.summary.Tags == nil {
		return []string{}
	}
	return w.summary.Tags
}

func (w *WorkerResolver) LastHeartbeat() string {
	return w.summary.LastHeartbeat.Format(time.RFC3339)
}

type ClusterStatsResolver struct {
	stats coordinator.ClusterStatsResponse
}

func (s *ClusterStatsResolver) TotalWorkers() int32   { return int32(s.stats.TotalWorkers) }
func (s *ClusterStatsResolver) ActiveWorkers() int32  { return int32(s.stats.ActiveWorkers) }
func (s *ClusterStatsResolver) TotalJobs() int32      { return int32(s.stats.TotalJobs) }
func (s *ClusterStatsResolver) PendingJobs() int32    { return int32(s.stats.PendingJobs) }
func (s *ClusterStatsResolver) RunningJobs() int32    { return int32(s.stats.RunningJobs) }
func (s *ClusterStatsResolver) CompletedJobs() int32  { return int32(s.stats.CompletedJobs) }
func (s *ClusterStatsResolver) FailedJobs() int32     { return int32(s.stats.FailedJobs) }
func (s *ClusterStatsResolver) AvgJobDuration() float64 { return s.stats.AvgJobDuration }
func (s *ClusterStatsResolver) UptimeSeconds() int32  { return int32(s.stats.UptimeSeconds) }

type PluginResolver struct {
	info plugins.Info
}

func (p *PluginResolver) ID() graphql.ID        { return graphql.ID(p.info.ID) }
func (p *PluginResolver) Name() string          { return p.info.Metadata.Name }
func (p *PluginResolver) Version() string       { return p.info.Metadata.Version }
func (p *PluginResolver) PluginType() string    { return string(p.info.Metadata.Type) }
func (p *PluginResolver) Status() string        { return string(p.info.Status) }
func (p *PluginResolver) ExecutionCount() int32 { return int32(p.info.ExecutionCount) }
func (p *PluginResolver) ErrorCount() int32     { return int32(p.info.ErrorCount) }

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
