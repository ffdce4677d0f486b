// Package job defines the job record, its state machine and the handler
// registry.
//
// A job moves queued -> running -> finished | failed. The terminal states
// are sticky: no update may move a finished or failed job anywhere else.
// A retryable failure returns the job to queued with a future RunAt
// instead of entering a terminal state.
package job
