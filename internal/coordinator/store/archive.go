package store

import (
	"context"
	"errors"

	"github.com/modelbench-go/internal/coordinator/queue"
)

// ErrNotArchived is returned when a job id is unknown to the archive.
var ErrNotArchived = errors.New("job not archived")

// Archive persists terminal jobs beyond the in-memory completed ring. The
// queue contract is unchanged: Get on an evicted id still misses there, and
// the facade falls back to the archive for history lookups.
type Archive interface {
	ArchiveJob(ctx context.Context, job *queue.Job) error
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	Close() error
}
