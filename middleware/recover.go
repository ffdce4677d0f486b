package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/adreel/adreel/job"
)

// panicError marks a recovered panic so it is recorded with failure kind
// "panic".
type panicError struct {
	jobName string
	value   any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.jobName, e.value)
}

func (e *panicError) FailKind() string { return "panic" }

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (url string, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				url = ""
				retErr = &panicError{jobName: j.Name, value: r}
			}
		}()
		return next(ctx)
	}
}
