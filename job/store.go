package job

import (
	"context"
	"time"

	"github.com/adreel/adreel/id"
)

// Store persists jobs and serves the worker dequeue loop.
//
// Implementations must enforce the state machine: Update returns
// adreel.ErrInvalidState when the stored job is already terminal, and
// Create returns adreel.ErrJobAlreadyExists on id collision. Get returns
// adreel.ErrJobNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, jobID id.JobID) (*Job, error)
	Update(ctx context.Context, j *Job) error

	// Dequeue atomically claims the next runnable job on one of the given
	// queues for the worker: state queued, RunAt due, highest priority
	// first. Returns (nil, nil) when nothing is runnable.
	Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*Job, error)

	// Heartbeat refreshes the running job's liveness stamp.
	Heartbeat(ctx context.Context, jobID id.JobID, at time.Time) error

	// Stale returns running jobs whose heartbeat is older than cutoff.
	Stale(ctx context.Context, cutoff time.Time) ([]*Job, error)

	Close() error
}
