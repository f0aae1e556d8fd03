package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered in-process hooks and shell-hook
// descriptors. The two pools share a single name namespace: a shell hook
// and an in-process hook may not collide. The registry is read-mostly; it
// is mutated only by explicit register/unregister calls, never during
// chain execution.
type Registry struct {
	mu         sync.RWMutex
	hooks      []Hook
	shellHooks []ShellHook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an in-process hook. The name must be unused across both
// hook kinds.
func (r *Registry) Register(hook Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(hook.Name()) {
		return fmt.Errorf("hook with name %q is already registered", hook.Name())
	}
	r.hooks = append(r.hooks, hook)
	return nil
}

// RegisterShell adds a shell hook descriptor. A zero priority takes the
// default.
func (r *Registry) RegisterShell(hook ShellHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(hook.Name) {
		return fmt.Errorf("hook with name %q is already registered", hook.Name)
	}
	if hook.Priority == 0 {
		hook.Priority = DefaultShellPriority
	}
	r.shellHooks = append(r.shellHooks, hook)
	return nil
}

// Unregister removes the named hook from whichever pool holds it.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, hook := range r.hooks {
		if hook.Name() == name {
			r.hooks = append(r.hooks[:i], r.hooks[i+1:]...)
			return nil
		}
	}
	for i, hook := range r.shellHooks {
		if hook.Name == name {
			r.shellHooks = append(r.shellHooks[:i], r.shellHooks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no hook with name %q found", name)
}

// GetHooks returns the in-process hooks registered for event, sorted
// ascending by priority. The sort is stable, so equal priorities keep
// registration order.
func (r *Registry) GetHooks(event HookEvent) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Hook
	for _, hook := range r.hooks {
		if containsEvent(hook.Events(), event) {
			matched = append(matched, hook)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}

// GetShellHooks returns the shell hooks registered for event, sorted
// ascending by priority with registration order preserved on ties.
func (r *Registry) GetShellHooks(event HookEvent) []ShellHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []ShellHook
	for _, hook := range r.shellHooks {
		if containsEvent(hook.Events, event) {
			matched = append(matched, hook)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

// Len reports the total number of registered hooks of both kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks) + len(r.shellHooks)
}

func (r *Registry) nameTaken(name string) bool {
	for _, hook := range r.hooks {
		if hook.Name() == name {
			return true
		}
	}
	for _, hook := range r.shellHooks {
		if hook.Name == name {
			return true
		}
	}
	return false
}
