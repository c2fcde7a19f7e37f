package motus

import (
	"math/rand"
	"sort"
)

// namedHook pairs a hook with an optional registry name, so snapshots can
// record attachments made through the Ref variants
type namedHook struct {
	name string
	fn   Hook
}

// State is a node in a machine's transition graph. Hooks registered for
// enter, update, and leave run in registration order, each isolated from the
// errors and panics of the others.
type State struct {
	id      int
	machine *StateMachine
	name    string
	valid   bool

	enter  []namedHook
	update []namedHook
	leave  []namedHook

	// ordered caches the outgoing transitions in resolution order; dirty
	// marks it stale after graph or trigger mutations.
	ordered []*Transition
	dirty   bool

	// layout hint for tooling, round-trips through snapshots
	x, y float64
}

// ID returns the state's id within its machine
func (s *State) ID() int {
	return s.id
}

// Name returns the state's display name
func (s *State) Name() string {
	return s.name
}

// SetName sets the state's display name
func (s *State) SetName(name string) *State {
	s.name = name
	return s
}

// Machine returns the owning state machine
func (s *State) Machine() *StateMachine {
	return s.machine
}

// Valid reports whether the state still belongs to its machine
func (s *State) Valid() bool {
	return s.valid
}

// SetPosition stores a layout hint for visualization and editors
func (s *State) SetPosition(x, y float64) *State {
	s.x, s.y = x, y
	return s
}

// Position returns the stored layout hint
func (s *State) Position() (x, y float64) {
	return s.x, s.y
}

// OnEnter appends a hook dispatched when the state becomes current
func (s *State) OnEnter(fn Hook) *State {
	s.enter = append(s.enter, namedHook{fn: fn})
	return s
}

// OnEnterRef appends an enter hook under a registry name, so snapshots of
// the machine can record the attachment
func (s *State) OnEnterRef(name string, fn Hook) *State {
	s.enter = append(s.enter, namedHook{name: name, fn: fn})
	return s
}

// OnUpdate appends a hook dispatched once per tick while the state is current
func (s *State) OnUpdate(fn Hook) *State {
	s.update = append(s.update, namedHook{fn: fn})
	return s
}

// OnUpdateRef appends an update hook under a registry name
func (s *State) OnUpdateRef(name string, fn Hook) *State {
	s.update = append(s.update, namedHook{name: name, fn: fn})
	return s
}

// OnLeave appends a hook dispatched when the state stops being current
func (s *State) OnLeave(fn Hook) *State {
	s.leave = append(s.leave, namedHook{fn: fn})
	return s
}

// OnLeaveRef appends a leave hook under a registry name
func (s *State) OnLeaveRef(name string, fn Hook) *State {
	s.leave = append(s.leave, namedHook{name: name, fn: fn})
	return s
}

// Transitions returns the outgoing transitions in resolution order
func (s *State) Transitions() []*Transition {
	ordered := s.orderedTransitions()
	out := make([]*Transition, len(ordered))
	copy(out, ordered)
	return out
}

// markDirty invalidates the cached resolution order
func (s *State) markDirty() {
	s.dirty = true
}

// orderedTransitions returns the cached resolution order, rebuilding it if a
// mutation invalidated the cache
func (s *State) orderedTransitions() []*Transition {
	if !s.dirty && s.ordered != nil {
		return s.ordered
	}
	s.ordered = s.ordered[:0]
	if s.machine != nil {
		for _, t := range s.machine.transitions {
			if t.valid && t.source == s {
				s.ordered = append(s.ordered, t)
			}
		}
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return s.ordered[i].less(s.ordered[j])
	})
	s.dirty = false
	return s.ordered
}

// armOutgoing samples the firing instants of the outgoing unconditioned
// delays. Called each time the state is entered.
func (s *State) armOutgoing(rng *rand.Rand) {
	for _, t := range s.orderedTransitions() {
		t.sample(rng)
	}
}

// resolveByTime returns the first transition in resolution order that is
// eligible within the tick window [prevTime, nextTime) and whose condition,
// if any, is satisfied. Self-loops are skipped.
func (s *State) resolveByTime(prevTime, nextTime float64) *Transition {
	m := s.machine
	for _, t := range s.orderedTransitions() {
		if t.target == s {
			continue
		}
		if !t.armed && t.condition == nil && t.HasDelay() {
			// trigger edits since entry dropped the sample; redraw here
			t.sample(m.rng)
		}
		if !t.timeEligible(prevTime, nextTime) {
			continue
		}
		if t.condition != nil && !m.evaluateCondition(t, "") {
			continue
		}
		return t
	}
	return nil
}

// resolveByMessage returns the first transition in resolution order whose
// message trigger matches msg and whose condition, if any, is satisfied.
// Self-loops and delay transitions are skipped.
func (s *State) resolveByMessage(msg string) *Transition {
	m := s.machine
	for _, t := range s.orderedTransitions() {
		if t.target == s {
			continue
		}
		if !t.hasMessage || t.message != msg {
			continue
		}
		if t.condition != nil && !m.evaluateCondition(t, msg) {
			continue
		}
		return t
	}
	return nil
}

// invalidate detaches the state after removal from its machine
func (s *State) invalidate() {
	s.valid = false
	s.ordered = nil
	s.dirty = true
}
