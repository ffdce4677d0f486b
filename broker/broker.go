// Package broker is the submission surface between the API and the job
// store. Submit validates that a handler exists, persists the job as
// queued and returns without waiting for a worker.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
)

// Broker accepts jobs for asynchronous execution.
type Broker struct {
	registry *job.Registry
	store    job.Store
	logger   *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New creates a Broker.
func New(registry *job.Registry, store job.Store, opts ...Option) *Broker {
	b := &Broker{registry: registry, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit enqueues a new job for the principal and returns it in the
// queued state. The call never blocks on execution. Submitting a job
// name without a registered handler returns adreel.ErrNoHandler.
func (b *Broker) Submit(ctx context.Context, name, queue, principal string, payload json.RawMessage, opts ...job.Option) (*job.Job, error) {
	if !b.registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", adreel.ErrNoHandler, name)
	}

	j := job.New(name, queue, principal, payload, opts...)
	if err := b.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("broker: submit %s: %w", name, err)
	}

	b.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.String("queue", queue),
		slog.String("principal", principal),
	)
	return j, nil
}

// Job reads the current job record. Each call hits the store so the
// caller always sees the latest state.
func (b *Broker) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return b.store.Get(ctx, jobID)
}
