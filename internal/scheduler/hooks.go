package scheduler

import "sync"

// Hook runs after a goal's execution, before its state is persisted. Hooks
// may mutate state, including Data, to carry values into later runs.
type Hook func(run Run, state *GoalState)

// HookRegistry holds named hooks goals can reference. Hooks, like
// conditions, are not serializable; they are re-attached by name when a
// goal is loaded.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string]Hook)}
}

// Register adds or replaces a named hook.
func (r *HookRegistry) Register(name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = h
}

// Get returns a hook by name.
func (r *HookRegistry) Get(name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[name]
	return h, ok
}
