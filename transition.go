package motus

import (
	"math"
	"math/rand"
	"time"
)

// Transition is a directed edge between two states of the same machine. It
// fires after an elapsed-time delay, on a named message, or instantly when it
// has neither, optionally gated by a condition and carrying an action that
// runs between the leave and enter dispatches of the fire.
//
// Delay and message triggers are mutually exclusive: setting any delay clears
// the message, and setting the message clears both delays.
type Transition struct {
	id      int
	machine *StateMachine
	source  *State
	target  *State
	valid   bool

	minDelay    float64
	maxDelay    float64
	hasMinDelay bool
	hasMaxDelay bool
	message     string
	hasMessage  bool

	condition     Condition
	conditionName string
	action        Action
	actionName    string

	// triggerAt is the concrete firing instant for an unconditioned delay,
	// sampled when the source state is entered. Meaningful only while armed.
	triggerAt float64
	armed     bool

	lastFiredAt time.Time
}

// ID returns the transition's id within its machine
func (t *Transition) ID() int {
	return t.id
}

// Source returns the source state
func (t *Transition) Source() *State {
	return t.source
}

// Target returns the target state
func (t *Transition) Target() *State {
	return t.target
}

// Machine returns the owning state machine
func (t *Transition) Machine() *StateMachine {
	return t.machine
}

// Valid reports whether the transition still belongs to its machine
func (t *Transition) Valid() bool {
	return t.valid
}

// WithDelay sets an exact firing instant: both delay bounds become seconds.
// Any message trigger is cleared.
func (t *Transition) WithDelay(seconds float64) *Transition {
	return t.WithWindow(seconds, seconds)
}

// WithWindow sets both delay bounds. Any message trigger is cleared.
func (t *Transition) WithWindow(min, max float64) *Transition {
	t.minDelay, t.hasMinDelay = min, true
	t.maxDelay, t.hasMaxDelay = max, true
	t.message, t.hasMessage = "", false
	t.retrigger()
	return t
}

// WithMinDelay sets the lower delay bound. Any message trigger is cleared.
func (t *Transition) WithMinDelay(seconds float64) *Transition {
	t.minDelay, t.hasMinDelay = seconds, true
	t.message, t.hasMessage = "", false
	t.retrigger()
	return t
}

// WithMaxDelay sets the upper delay bound. Any message trigger is cleared.
func (t *Transition) WithMaxDelay(seconds float64) *Transition {
	t.maxDelay, t.hasMaxDelay = seconds, true
	t.message, t.hasMessage = "", false
	t.retrigger()
	return t
}

// ClearDelay removes both delay bounds
func (t *Transition) ClearDelay() *Transition {
	t.minDelay, t.hasMinDelay = 0, false
	t.maxDelay, t.hasMaxDelay = 0, false
	t.retrigger()
	return t
}

// WithMessage sets the named message trigger. Both delay bounds are cleared.
func (t *Transition) WithMessage(msg string) *Transition {
	t.message, t.hasMessage = msg, true
	t.minDelay, t.hasMinDelay = 0, false
	t.maxDelay, t.hasMaxDelay = 0, false
	t.retrigger()
	return t
}

// ClearMessage removes the message trigger
func (t *Transition) ClearMessage() *Transition {
	t.message, t.hasMessage = "", false
	t.retrigger()
	return t
}

// WithCondition adds a guard condition to the transition
func (t *Transition) WithCondition(condition Condition) *Transition {
	t.condition = condition
	t.conditionName = ""
	t.retrigger()
	return t
}

// WithConditionRef adds a guard condition under a registry name, so snapshots
// of the machine can record the attachment
func (t *Transition) WithConditionRef(name string, condition Condition) *Transition {
	t.condition = condition
	t.conditionName = name
	t.retrigger()
	return t
}

// WithAction adds an action to the transition
func (t *Transition) WithAction(action Action) *Transition {
	t.action = action
	t.actionName = ""
	return t
}

// WithActionRef adds an action under a registry name, so snapshots of the
// machine can record the attachment
func (t *Transition) WithActionRef(name string, action Action) *Transition {
	t.action = action
	t.actionName = name
	return t
}

// MinDelay returns the lower delay bound and whether it is set
func (t *Transition) MinDelay() (float64, bool) {
	return t.minDelay, t.hasMinDelay
}

// MaxDelay returns the upper delay bound and whether it is set
func (t *Transition) MaxDelay() (float64, bool) {
	return t.maxDelay, t.hasMaxDelay
}

// Message returns the message trigger and whether it is set
func (t *Transition) Message() (string, bool) {
	return t.message, t.hasMessage
}

// HasDelay reports whether either delay bound is set
func (t *Transition) HasDelay() bool {
	return t.hasMinDelay || t.hasMaxDelay
}

// HasCondition reports whether a guard condition is attached
func (t *Transition) HasCondition() bool {
	return t.condition != nil
}

// ConditionName returns the registry name of the condition, or empty for an
// anonymous or absent one
func (t *Transition) ConditionName() string {
	return t.conditionName
}

// HasAction reports whether an action is attached
func (t *Transition) HasAction() bool {
	return t.action != nil
}

// ActionName returns the registry name of the action, or empty for an
// anonymous or absent one
func (t *Transition) ActionName() string {
	return t.actionName
}

// LastFiredAt returns the wall-clock instant of the most recent fire, or the
// zero time if the transition never fired
func (t *Transition) LastFiredAt() time.Time {
	return t.lastFiredAt
}

// retrigger drops any sampled firing instant and invalidates the source
// state's resolution order after a trigger mutation
func (t *Transition) retrigger() {
	t.armed = false
	if t.source != nil {
		t.source.markDirty()
	}
}

// sample draws the concrete firing instant for an unconditioned delay:
// minDelay when no upper bound is set, otherwise uniform over the window.
// Conditioned and instant transitions have nothing to sample.
func (t *Transition) sample(rng *rand.Rand) {
	if t.condition != nil || !t.HasDelay() {
		t.armed = false
		return
	}
	min := 0.0
	if t.hasMinDelay {
		min = t.minDelay
	}
	if !t.hasMaxDelay {
		t.triggerAt = min
		t.armed = true
		return
	}
	max := t.maxDelay
	if max < min {
		max = min
	}
	t.triggerAt = min + rng.Float64()*(max-min)
	t.armed = true
}

// timeEligible reports whether the transition may fire within the half-open
// tick window [prevTime, nextTime) of elapsed state seconds. Message
// transitions are never time-eligible.
func (t *Transition) timeEligible(prevTime, nextTime float64) bool {
	if t.hasMessage {
		return false
	}
	if !t.HasDelay() {
		return true
	}
	if t.condition == nil {
		return t.armed && t.triggerAt >= prevTime && t.triggerAt < nextTime
	}
	// A conditioned delay is eligible while the tick interval overlaps the
	// window; past maxDelay it stays ineligible until the state is re-entered.
	if t.hasMaxDelay && prevTime > t.maxDelay {
		return false
	}
	min := 0.0
	if t.hasMinDelay {
		min = t.minDelay
	}
	return nextTime >= min
}

// consumedDelay reports how much elapsed state time the fired transition
// accounts for. A sampled instant carries its remainder into the next state's
// clock; conditioned, message, and instant fires consume everything.
func (t *Transition) consumedDelay() (float64, bool) {
	if t.armed && t.condition == nil && t.HasDelay() {
		return t.triggerAt, true
	}
	return 0, false
}

// sortDelay is the ordering key for the lower delay bound; transitions
// without one sort last
func (t *Transition) sortDelay() float64 {
	if t.hasMinDelay {
		return t.minDelay
	}
	return math.Inf(1)
}

// less orders transitions for resolution: ascending minDelay, then
// conditioned before unconditioned, then message-carrying before not, then
// ascending target id. Parallel edges to the same target fall back to the
// transition id so the order is total.
func (t *Transition) less(o *Transition) bool {
	a, b := t.sortDelay(), o.sortDelay()
	if a != b {
		return a < b
	}
	if (t.condition != nil) != (o.condition != nil) {
		return t.condition != nil
	}
	if t.hasMessage != o.hasMessage {
		return t.hasMessage
	}
	if t.target.id != o.target.id {
		return t.target.id < o.target.id
	}
	return t.id < o.id
}

// invalidate detaches the transition after removal from its machine
func (t *Transition) invalidate() {
	t.valid = false
	t.armed = false
}
