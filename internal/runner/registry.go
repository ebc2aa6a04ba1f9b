package runner

import (
	"fmt"
	"sync"
)

// Registry is the task_name -> JavaScript source binding, mirroring
// the teacher's runtime.Registry (job_type -> Handler) but for task
// code instead of compiled Go handlers, since task code here is
// untrusted script rather than a Go type.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]string
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]string)}
}

// Register binds taskName to its source. Re-registering the same name
// is a configuration error and panics at startup, matching the
// teacher's fail-fast stance on duplicate job_type registration.
func (r *Registry) Register(taskName, code string) {
	if taskName == "" {
		panic("runner: task name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[taskName]; exists {
		panic(fmt.Sprintf("runner: task %q already registered", taskName))
	}
	r.tasks[taskName] = code
}

func (r *Registry) Lookup(taskName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.tasks[taskName]
	return code, ok
}
