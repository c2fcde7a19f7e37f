package motus

import "sort"

// Registry maps names to hooks, conditions, and actions so machine graphs
// can be written to definitions and snapshots and rebuilt later. Register
// everything during setup; the registry is not synchronized.
type Registry struct {
	hooks      map[string]Hook
	conditions map[string]Condition
	actions    map[string]Action
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		hooks:      make(map[string]Hook),
		conditions: make(map[string]Condition),
		actions:    make(map[string]Action),
	}
}

// RegisterHook registers a named state hook. Registering a name twice is an
// error.
func (r *Registry) RegisterHook(name string, fn Hook) error {
	if _, exists := r.hooks[name]; exists {
		return NewDefinitionError("hook "+name, "already registered")
	}
	r.hooks[name] = fn
	return nil
}

// RegisterCondition registers a named transition condition. Registering a
// name twice is an error.
func (r *Registry) RegisterCondition(name string, fn Condition) error {
	if _, exists := r.conditions[name]; exists {
		return NewDefinitionError("condition "+name, "already registered")
	}
	r.conditions[name] = fn
	return nil
}

// RegisterAction registers a named transition action. Registering a name
// twice is an error.
func (r *Registry) RegisterAction(name string, fn Action) error {
	if _, exists := r.actions[name]; exists {
		return NewDefinitionError("action "+name, "already registered")
	}
	r.actions[name] = fn
	return nil
}

// Hook returns the hook registered under name
func (r *Registry) Hook(name string) (Hook, bool) {
	fn, ok := r.hooks[name]
	return fn, ok
}

// Condition returns the condition registered under name
func (r *Registry) Condition(name string) (Condition, bool) {
	fn, ok := r.conditions[name]
	return fn, ok
}

// Action returns the action registered under name
func (r *Registry) Action(name string) (Action, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Names lists every registered name, sorted, for diagnostics
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.hooks)+len(r.conditions)+len(r.actions))
	for name := range r.hooks {
		names = append(names, name)
	}
	for name := range r.conditions {
		names = append(names, name)
	}
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
