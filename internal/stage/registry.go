// Package stage is the dispatch-by-name registry Design Note #1 in
// spec.md §9 calls for: "a mapping from stage identifier to a first-class
// function value... missing key ⇒ Unknown step", replacing the original
// Python's reflective getattr(getattr(queues, pool), name) lookup.
// Grounded on internal/jobs/runtime.Registry's Register/Get shape.
package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Handler is one pool.name stage's executable contract: spec.md §4.3's
// load -> run container -> save unit. Run receives the task context and
// the job-wide opaque payload, and returns an Outcome rather than
// raising — Design Note "Exception-as-control-flow in stages".
type Handler interface {
	// Identifier returns the stage's own "pool.name" string, checked
	// against the key it's registered under to catch wiring mistakes.
	Identifier() string
	Run(ctx context.Context, rc *RunContext) Outcome
}

// Registry maps "pool.name" identifiers to Handlers. At most one handler
// may be registered per identifier; registration happens once at process
// startup, lookups happen from every worker goroutine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	id := h.Identifier()
	if id == "" {
		return fmt.Errorf("handler Identifier() is empty")
	}
	if !strings.Contains(id, ".") {
		return fmt.Errorf("handler identifier %q is not of the form pool.name", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("handler already registered for step=%s", id)
	}
	r.handlers[id] = h
	return nil
}

// ErrUnknownStep is spec.md §4.7's "Unknown step". The scheduler's
// dispatchNext returns it when a job's progress is past the end of its
// step list; the worker wraps it into the failure reason it reports for
// a step with no registered handler.
var ErrUnknownStep = fmt.Errorf("unknown step")

// Get retrieves the handler for a step identifier. The worker treats a
// miss as fatal: it indicates a wiring error, not a retryable condition.
func (r *Registry) Get(step string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[step]
	return h, ok
}

// Pool extracts the queue name prefix from a "pool.name" step identifier.
func Pool(step string) string {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return step[:i]
	}
	return step
}

// Name extracts the stage name suffix from a "pool.name" step identifier.
func Name(step string) string {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return step[i+1:]
	}
	return step
}
