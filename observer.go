package motus

import (
	"fmt"
	"sync"
)

// Observer represents an entity that observes state machine lifecycle
type Observer interface {
	// Required methods

	// OnTransitionFired is called after a transition completes its fire
	// sequence, on authorities and replicas alike
	OnTransitionFired(m *StateMachine, from, to *State, t *Transition)

	// OnStateEntered is called after a state's enter hooks ran
	OnStateEntered(m *StateMachine, s *State)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnStateLeft is called after a state's leave hooks ran
	OnStateLeft(m *StateMachine, s *State)

	// OnMachineStarted is called when the machine starts
	OnMachineStarted(m *StateMachine)

	// OnMachineStopped is called when the machine stops
	OnMachineStopped(m *StateMachine)

	// OnCascadeOverflow is called when a tick abandons resolution after
	// firing the maximum number of instant transitions
	OnCascadeOverflow(m *StateMachine, s *State, fired int)

	// OnHookError is called when a hook, condition, or action fails or
	// panics
	OnHookError(m *StateMachine, s *State, err error)
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

// OnTransitionFired implements the required Observer method
func (o *BaseObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	// Default implementation - no operation
}

// OnStateEntered implements the required Observer method
func (o *BaseObserver) OnStateEntered(m *StateMachine, s *State) {
	// Default implementation - no operation
}

// OnStateLeft implements the optional ExtendedObserver method
func (o *BaseObserver) OnStateLeft(m *StateMachine, s *State) {
	// Default implementation - no operation
}

// OnMachineStarted implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStarted(m *StateMachine) {
	// Default implementation - no operation
}

// OnMachineStopped implements the optional ExtendedObserver method
func (o *BaseObserver) OnMachineStopped(m *StateMachine) {
	// Default implementation - no operation
}

// OnCascadeOverflow implements the optional ExtendedObserver method
func (o *BaseObserver) OnCascadeOverflow(m *StateMachine, s *State, fired int) {
	// Default implementation - no operation
}

// OnHookError implements the optional ExtendedObserver method
func (o *BaseObserver) OnHookError(m *StateMachine, s *State, err error) {
	// Default implementation - no operation
}

// observerManager fans machine notifications out to registered observers. A
// panicking observer never disturbs the machine or the other observers.
type observerManager struct {
	mu        sync.Mutex
	observers []Observer
}

func newObserverManager() *observerManager {
	return &observerManager{
		observers: make([]Observer, 0),
	}
}

// Add registers an observer
func (om *observerManager) Add(observer Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.observers = append(om.observers, observer)
}

// Remove unregisters an observer
func (om *observerManager) Remove(observer Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

func (om *observerManager) snapshot() []Observer {
	om.mu.Lock()
	defer om.mu.Unlock()
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)
	return observers
}

// guard invokes one notification with panic recovery. A panic is forwarded
// to the observer's own OnHookError when it implements ExtendedObserver,
// itself guarded against panicking.
func guard(m *StateMachine, observer Observer, method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if extObs, ok := observer.(ExtendedObserver); ok {
				func() {
					defer func() { _ = recover() }()
					extObs.OnHookError(m, nil, fmt.Errorf("observer panic in %s: %v", method, r))
				}()
			}
		}
	}()
	fn()
}

func (om *observerManager) notifyTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	for _, observer := range om.snapshot() {
		observer := observer
		guard(m, observer, "OnTransitionFired", func() {
			observer.OnTransitionFired(m, from, to, t)
		})
	}
}

func (om *observerManager) notifyStateEntered(m *StateMachine, s *State) {
	for _, observer := range om.snapshot() {
		observer := observer
		guard(m, observer, "OnStateEntered", func() {
			observer.OnStateEntered(m, s)
		})
	}
}

func (om *observerManager) notifyStateLeft(m *StateMachine, s *State) {
	for _, observer := range om.snapshot() {
		extObs, ok := observer.(ExtendedObserver)
		if !ok {
			continue
		}
		guard(m, observer, "OnStateLeft", func() {
			extObs.OnStateLeft(m, s)
		})
	}
}

func (om *observerManager) notifyStarted(m *StateMachine) {
	for _, observer := range om.snapshot() {
		extObs, ok := observer.(ExtendedObserver)
		if !ok {
			continue
		}
		guard(m, observer, "OnMachineStarted", func() {
			extObs.OnMachineStarted(m)
		})
	}
}

func (om *observerManager) notifyStopped(m *StateMachine) {
	for _, observer := range om.snapshot() {
		extObs, ok := observer.(ExtendedObserver)
		if !ok {
			continue
		}
		guard(m, observer, "OnMachineStopped", func() {
			extObs.OnMachineStopped(m)
		})
	}
}

func (om *observerManager) notifyCascadeOverflow(m *StateMachine, s *State, fired int) {
	for _, observer := range om.snapshot() {
		extObs, ok := observer.(ExtendedObserver)
		if !ok {
			continue
		}
		guard(m, observer, "OnCascadeOverflow", func() {
			extObs.OnCascadeOverflow(m, s, fired)
		})
	}
}

func (om *observerManager) notifyHookError(m *StateMachine, s *State, err error) {
	for _, observer := range om.snapshot() {
		extObs, ok := observer.(ExtendedObserver)
		if !ok {
			continue
		}
		guard(m, observer, "OnHookError", func() {
			extObs.OnHookError(m, s, err)
		})
	}
}
