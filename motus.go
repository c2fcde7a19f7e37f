// Package motus provides a timed finite state machine engine for game-object
// behavior, with delay windows, message triggers, guarded transitions, and
// authority-based replication of fired transitions.
package motus

// MaxInstantTransitions caps how many transitions a single tick may fire in a
// row. Hitting the cap means the graph contains a zero-delay cycle: the tick
// logs the condition, abandons further resolution, and the machine keeps
// ticking normally afterwards.
const MaxInstantTransitions = 16

// Hook is a state lifecycle callback, registered for enter, update, or leave
// dispatch. A returned error is logged and does not stop the remaining hooks.
type Hook func(*Context) error

// Condition gates a transition. A panicking condition is logged and treated
// as not satisfied.
type Condition func(*Context) bool

// Action runs between the leave and enter dispatches of a fired transition.
// A returned error is logged and never aborts the fire sequence.
type Action func(*Context) error
