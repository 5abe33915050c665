package runtime

import (
	"fmt"
	"sync"

	"github.com/archivolt/mnemos/internal/domain"
)

// Registry maps stage names to handlers. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(stage string, h Handler) error {
	if !domain.ValidStage(stage) {
		return fmt.Errorf("registry: unknown stage %q", stage)
	}
	if h == nil {
		return fmt.Errorf("registry: nil handler for %q", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[stage]; dup {
		return fmt.Errorf("registry: duplicate handler for %q", stage)
	}
	r.handlers[stage] = h
	return nil
}

func (r *Registry) Get(stage string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}

// Complete reports whether every pipeline stage has a handler.
func (r *Registry) Complete() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, stage := range domain.Stages() {
		if _, ok := r.handlers[stage]; !ok {
			return fmt.Errorf("registry: no handler for stage %q", stage)
		}
	}
	return nil
}
