package runtime

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Handler executes one job type. Run reports progress through ctx and returns
// nil, a retryable error, or Permanent(err).
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job types to handlers. Registration happens at startup; lookups
// are safe from any number of workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds hs in order and stops at the first invalid or duplicate one.
func (r *Registry) Register(hs ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range hs {
		if h == nil {
			return errors.New("register: nil handler")
		}
		jobType := h.Type()
		if jobType == "" {
			return fmt.Errorf("register %T: empty job type", h)
		}
		if prev, dup := r.handlers[jobType]; dup {
			return fmt.Errorf("register %T: job_type=%s already handled by %T", h, jobType, prev)
		}
		r.handlers[jobType] = h
	}
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[jobType]
	r.mu.RUnlock()
	return h, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}
