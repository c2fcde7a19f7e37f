package motus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

// TestObserver is a mock observer for testing that captures all observer events
type TestObserver struct {
	mutex      sync.RWMutex
	Fires      []FireEvent
	Enters     []StateEvent
	Leaves     []StateEvent
	Started    int
	Stopped    int
	Overflows  []OverflowEvent
	HookErrors []error
}

type FireEvent struct {
	From         string
	To           string
	TransitionID int
}

type StateEvent struct {
	StateID int
	Name    string
}

type OverflowEvent struct {
	StateID int
	Fired   int
}

// NewTestObserver creates a new test observer
func NewTestObserver() *TestObserver {
	return &TestObserver{
		Fires:  make([]FireEvent, 0),
		Enters: make([]StateEvent, 0),
		Leaves: make([]StateEvent, 0),
	}
}

func (o *TestObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Fires = append(o.Fires, FireEvent{From: from.Name(), To: to.Name(), TransitionID: t.ID()})
}

func (o *TestObserver) OnStateEntered(m *StateMachine, s *State) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Enters = append(o.Enters, StateEvent{StateID: s.ID(), Name: s.Name()})
}

func (o *TestObserver) OnStateLeft(m *StateMachine, s *State) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Leaves = append(o.Leaves, StateEvent{StateID: s.ID(), Name: s.Name()})
}

func (o *TestObserver) OnMachineStarted(m *StateMachine) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Started++
}

func (o *TestObserver) OnMachineStopped(m *StateMachine) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Stopped++
}

func (o *TestObserver) OnCascadeOverflow(m *StateMachine, s *State, fired int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Overflows = append(o.Overflows, OverflowEvent{StateID: s.ID(), Fired: fired})
}

func (o *TestObserver) OnHookError(m *StateMachine, s *State, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.HookErrors = append(o.HookErrors, err)
}

// Helper methods for test assertions
func (o *TestObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Fires = nil
	o.Enters = nil
	o.Leaves = nil
	o.Started = 0
	o.Stopped = 0
	o.Overflows = nil
	o.HookErrors = nil
}

func (o *TestObserver) FireCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Fires)
}

func (o *TestObserver) EnterCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Enters)
}

func (o *TestObserver) LeaveCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Leaves)
}

func (o *TestObserver) OverflowCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Overflows)
}

func (o *TestObserver) HookErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.HookErrors)
}

func (o *TestObserver) LastFire() *FireEvent {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if len(o.Fires) == 0 {
		return nil
	}
	return &o.Fires[len(o.Fires)-1]
}

func (o *TestObserver) LastEnter() *StateEvent {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if len(o.Enters) == 0 {
		return nil
	}
	return &o.Enters[len(o.Enters)-1]
}

// DiscardLogger returns a logger that drops everything, for tests that
// provoke hook failures on purpose
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Test machine builders - common machine configurations for testing

// CreateMessageMachine creates a machine driven purely by messages:
// idle -"start"-> running -"stop"-> stopped -"reset"-> idle.
func CreateMessageMachine() *StateMachine {
	m := New(WithSeed(1))
	idle := m.AddState().SetName("idle")
	running := m.AddState().SetName("running")
	stopped := m.AddState().SetName("stopped")

	t1, _ := m.AddTransition(idle, running)
	t1.WithMessage("start")
	t2, _ := m.AddTransition(running, stopped)
	t2.WithMessage("stop")
	t3, _ := m.AddTransition(stopped, idle)
	t3.WithMessage("reset")

	_ = m.SetInitialState(idle)
	return m
}

// CreateTimedMachine creates a machine driven by fixed delays:
// red -3s-> green -2s-> yellow -1s-> red.
func CreateTimedMachine() *StateMachine {
	m := New(WithSeed(1))
	red := m.AddState().SetName("red")
	green := m.AddState().SetName("green")
	yellow := m.AddState().SetName("yellow")

	t1, _ := m.AddTransition(red, green)
	t1.WithDelay(3)
	t2, _ := m.AddTransition(green, yellow)
	t2.WithDelay(2)
	t3, _ := m.AddTransition(yellow, red)
	t3.WithDelay(1)

	_ = m.SetInitialState(red)
	return m
}

// CreateGuardedMachine creates a machine whose transition out of "wait"
// opens one second in and closes three seconds in, gated on the machine
// data being the bool true.
func CreateGuardedMachine() *StateMachine {
	m := New(WithSeed(1), WithData(false))
	wait := m.AddState().SetName("wait")
	done := m.AddState().SetName("done")

	t, _ := m.AddTransition(wait, done)
	t.WithWindow(1, 3).WithCondition(func(ctx *Context) bool {
		open, _ := ctx.Data.(bool)
		return open
	})

	_ = m.SetInitialState(wait)
	return m
}

// StartTicked starts the machine and runs one zero-length tick so the
// initial state's enter hooks have been dispatched.
func StartTicked(t *testing.T, m *StateMachine) {
	t.Helper()
	if err := m.Start(); err != nil {
		t.Fatalf("Expected no error starting machine, got: %v", err)
	}
	m.Tick(0)
}

// AssertState checks the machine's current state by name
func AssertState(t *testing.T, m *StateMachine, expected string) {
	t.Helper()
	cur := m.CurrentState()
	if cur == nil {
		t.Fatalf("Expected state %s, machine has no current state", expected)
	}
	if cur.Name() != expected {
		t.Errorf("Expected state %s, got %s", expected, cur.Name())
	}
}

// AssertNoCurrent checks that the machine has no current state
func AssertNoCurrent(t *testing.T, m *StateMachine) {
	t.Helper()
	if cur := m.CurrentState(); cur != nil {
		t.Errorf("Expected no current state, got %s", cur.Name())
	}
}

// AssertObserverCalled checks if observer methods were called expected number of times
func AssertObserverCalled(t *testing.T, observer *TestObserver, fires, enters, leaves int) {
	t.Helper()
	if observer.FireCount() != fires {
		t.Errorf("Expected %d fires, got %d", fires, observer.FireCount())
	}
	if observer.EnterCount() != enters {
		t.Errorf("Expected %d enters, got %d", enters, observer.EnterCount())
	}
	if observer.LeaveCount() != leaves {
		t.Errorf("Expected %d leaves, got %d", leaves, observer.LeaveCount())
	}
}

// AssertErrorCode checks that an error carries the expected code
func AssertErrorCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if got := GetErrorCode(err); got != code {
		t.Errorf("Expected error code %d, got %d (%v)", code, got, err)
	}
}
