package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/adreel/adreel/id"
)

// State is a job lifecycle state.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateFinished, StateFailed:
		return true
	}
	return false
}

// Failure describes why a job failed. Kind is a stable machine-readable
// category ("model", "encode", "storage", "panic", "timeout"); Message is
// the human-readable detail shown to the job's owner.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FailKinder lets an error declare its failure category. Errors that do
// not implement it are recorded with kind "error".
type FailKinder interface {
	FailKind() string
}

// ClassifyError converts an error into a recorded Failure.
func ClassifyError(err error) Failure {
	if err == nil {
		return Failure{}
	}
	kind := "error"
	var fk FailKinder
	switch {
	case errors.As(err, &fk):
		kind = fk.FailKind()
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	}
	return Failure{Kind: kind, Message: err.Error()}
}

// Job is one unit of asynchronous work.
type Job struct {
	ID        id.JobID        `json:"id"`
	Name      string          `json:"name"`
	Queue     string          `json:"queue"`
	Principal string          `json:"principal"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	State      State    `json:"state"`
	Priority   int      `json:"priority"`
	MaxRetries int      `json:"max_retries"`
	RetryCount int      `json:"retry_count"`
	ResultURL  string   `json:"result_url,omitempty"`
	Failure    *Failure `json:"failure,omitempty"`

	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a queued Job ready for enqueue.
func New(name, queue, principal string, payload json.RawMessage, opts ...Option) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:        id.NewJobID(),
		Name:      name,
		Queue:     queue,
		Principal: principal,
		Payload:   payload,
		State:     StateQueued,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
