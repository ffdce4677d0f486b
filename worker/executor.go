// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/adreel/adreel/backoff"
	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/middleware"
)

// Consumer charges a principal one credit. Wired when credits are
// consumed at completion rather than at submission.
type Consumer interface {
	Consume(ctx context.Context, principal string) error
}

// Executor runs a single job through middleware and the registered
// handler, then applies the lifecycle rules: the result URL is recorded
// before the job is marked finished, and the failure record is written
// before the error propagates.
type Executor struct {
	registry *job.Registry
	store    job.Store
	backoff  backoff.Strategy
	mw       middleware.Middleware
	consumer Consumer
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware sets the middleware chain wrapped around every handler
// call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithConsumer charges one credit to the job's principal after a
// successful run. Leave unset when credits are charged at submission.
func WithConsumer(c Consumer) ExecutorOption {
	return func(e *Executor) { e.consumer = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor.
func NewExecutor(registry *job.Registry, store job.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		store:    store,
		backoff:  backoff.Default(),
		mw:       middleware.Chain(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a claimed job to a new state.
//
// On success the job carries its result URL when it turns finished. On
// failure with retry budget left, the job returns to queued with a
// backoff delay. On failure with the budget spent, the failure record
// is persisted and the handler error is returned.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, err := e.registry.Handler(j.Name)
	if err != nil {
		// Nothing can run this job; fail it rather than spin on retries.
		return e.fail(ctx, j, err)
	}

	terminal := func(ctx context.Context) (string, error) {
		return handler(ctx, j)
	}

	url, err := e.mw(ctx, j, terminal)
	if err != nil {
		if j.CanRetry() {
			return e.scheduleRetry(ctx, j, err)
		}
		return e.fail(ctx, j, err)
	}
	return e.finish(ctx, j, url)
}

// finish records the result URL and marks the job finished in one
// update. A read between the handler returning and this update never
// sees a finished job without its result.
func (e *Executor) finish(ctx context.Context, j *job.Job, url string) error {
	now := time.Now().UTC()
	j.State = job.StateFinished
	j.ResultURL = url
	j.CompletedAt = &now
	j.Failure = nil

	if err := e.store.Update(ctx, j); err != nil {
		e.logger.Error("failed to persist finished job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if e.consumer != nil {
		if err := e.consumer.Consume(ctx, j.Principal); err != nil {
			// The result already shipped; log and move on rather than
			// failing a finished job.
			e.logger.Error("credit consumption failed after completion",
				slog.String("job_id", j.ID.String()),
				slog.String("principal", j.Principal),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// scheduleRetry returns the job to the queue with a future due time.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error) error {
	j.RetryCount++
	delay := e.backoff.Delay(j.RetryCount)
	failure := job.ClassifyError(handlerErr)
	j.Failure = &failure
	j.State = job.StateQueued
	j.RunAt = time.Now().UTC().Add(delay)
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.Update(ctx, j); err != nil {
		e.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("error", handlerErr.Error()),
	)
	return nil
}

// fail writes the failure record and marks the job failed, then lets
// the handler error propagate.
func (e *Executor) fail(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	failure := job.ClassifyError(handlerErr)
	j.Failure = &failure
	j.State = job.StateFailed
	j.CompletedAt = &now

	if err := e.store.Update(ctx, j); err != nil {
		e.logger.Error("failed to persist failed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("failure_kind", failure.Kind),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
