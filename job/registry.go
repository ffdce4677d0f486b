package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adreel/adreel"
)

// HandlerFunc executes one job attempt. On success it returns the URL of
// the published result; the worker records the URL before marking the
// job finished.
type HandlerFunc func(ctx context.Context, j *Job) (string, error)

// Registry maps job names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a job name, replacing any previous binding.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Handler resolves the handler for name. Returns adreel.ErrNoHandler when
// no handler is registered.
func (r *Registry) Handler(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", adreel.ErrNoHandler, name)
	}
	return fn, nil
}

// Has reports whether a handler is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Definition binds a job name to a typed handler. The payload is decoded
// into T before the handler runs.
type Definition[T any] struct {
	Name    string
	Handler func(ctx context.Context, j *Job, payload T) (string, error)
}

// RegisterDefinition registers a typed definition on the registry.
func RegisterDefinition[T any](r *Registry, def Definition[T]) {
	r.Register(def.Name, func(ctx context.Context, j *Job) (string, error) {
		var payload T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &payload); err != nil {
				return "", fmt.Errorf("job %s: decode payload: %w", j.ID, err)
			}
		}
		return def.Handler(ctx, j, payload)
	})
}
