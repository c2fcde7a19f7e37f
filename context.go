package motus

import "log/slog"

// Context carries the invocation context handed to hooks, conditions, and
// actions. Fields not meaningful for a given dispatch are left at their zero
// value: Transition is set only while a transition is being evaluated or
// fired, Delta only during update dispatch, Message only while resolving a
// named message.
type Context struct {
	Machine    *StateMachine
	State      *State
	Transition *Transition
	StateTime  float64
	Delta      float64
	Message    string

	// Data is the host payload installed with WithData or SetData, typically
	// the game object this machine drives.
	Data any

	Logger *slog.Logger
}
