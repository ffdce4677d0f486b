package job

import "time"

// Option configures a Job at construction.
type Option func(*Job)

// WithPriority sets the dequeue priority. Higher runs first.
func WithPriority(priority int) Option {
	return func(j *Job) { j.Priority = priority }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(j *Job) { j.MaxRetries = n }
}

// WithRunAt delays the first run until t.
func WithRunAt(t time.Time) Option {
	return func(j *Job) { j.RunAt = t.UTC() }
}

// WithTimeout bounds a single attempt's execution time.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) { j.Timeout = d }
}
