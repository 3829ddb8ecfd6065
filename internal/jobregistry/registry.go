// Package jobregistry is the function-transport collaborator spec.md §9
// calls out as an acceptable alternative to stringify-and-dynamically-construct
// transports: tasks are registered ahead of time under a name, and the
// scheduler ships only the name plus arguments across the worker protocol
// boundary. This is the only supported way to make a function callable by
// a Pool — there is no dynamic-construction path in this module.
package jobregistry

import (
	"context"
	"fmt"
	"sync"
)

// Func is the shape every registered task must have.
type Func func(ctx context.Context, args []any) (any, error)

// Registry is a name->Func table. The zero value is not usable; construct
// one with New.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Func
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]Func)}
}

// Register adds fn under name. Registering a duplicate name is a
// programmer error made at wiring time, not at request time, so it panics
// immediately rather than returning an error a caller might ignore —
// matching the teacher's general style of failing fast on init-time
// wiring mistakes.
func (r *Registry) Register(name string, fn Func) {
	if name == "" {
		panic("jobregistry: task name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("jobregistry: nil func registered for task %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		panic(fmt.Sprintf("jobregistry: task %q already registered", name))
	}
	r.tasks[name] = fn
}

// Lookup resolves name to its registered Func, if any.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Names returns every currently registered task name, useful for
// diagnostics and tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
