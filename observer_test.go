package motus

import (
	"strings"
	"sync"
	"testing"
)

var _ ExtendedObserver = (*BaseObserver)(nil)
var _ ExtendedObserver = (*TestObserver)(nil)

// minimalObserver implements only the required Observer interface
type minimalObserver struct {
	mu    sync.Mutex
	fires int
}

func (o *minimalObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fires++
}

func (o *minimalObserver) OnStateEntered(m *StateMachine, s *State) {}

// panickyObserver blows up on every fire and records what the manager
// reports back through OnHookError
type panickyObserver struct {
	BaseObserver
	mu       sync.Mutex
	reported []error
}

func (o *panickyObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	panic("observer exploded")
}

func (o *panickyObserver) OnHookError(m *StateMachine, s *State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reported = append(o.reported, err)
}

func TestObserver_AddRemove(t *testing.T) {
	machine := CreateMessageMachine()
	first := NewTestObserver()
	second := NewTestObserver()
	machine.AddObserver(first)
	machine.AddObserver(second)
	StartTicked(t, machine)

	machine.SendMessage("start")
	if first.FireCount() != 1 || second.FireCount() != 1 {
		t.Error("Expected both observers notified")
	}

	machine.RemoveObserver(second)
	machine.SendMessage("stop")

	if first.FireCount() != 2 {
		t.Error("Expected the remaining observer notified")
	}
	if second.FireCount() != 1 {
		t.Error("Expected the removed observer silent")
	}
}

func TestObserver_MinimalInterfaceSuffices(t *testing.T) {
	machine := CreateMessageMachine()
	observer := &minimalObserver{}
	machine.AddObserver(observer)

	StartTicked(t, machine)
	machine.SendMessage("start")
	_ = machine.Stop()

	if observer.fires != 1 {
		t.Errorf("Expected one fire seen, got %d", observer.fires)
	}
}

func TestObserver_PanicIsolatedFromMachine(t *testing.T) {
	machine := CreateMessageMachine()
	angry := &panickyObserver{}
	calm := NewTestObserver()
	machine.AddObserver(angry)
	machine.AddObserver(calm)
	StartTicked(t, machine)

	if !machine.SendMessage("start") {
		t.Fatal("Expected the fire to complete despite the panicking observer")
	}

	AssertState(t, machine, "running")
	if calm.FireCount() != 1 {
		t.Error("Expected the other observer still notified")
	}

	angry.mu.Lock()
	defer angry.mu.Unlock()
	if len(angry.reported) != 1 {
		t.Fatalf("Expected the panic reported to the observer, got %d reports", len(angry.reported))
	}
	if !strings.Contains(angry.reported[0].Error(), "OnTransitionFired") {
		t.Errorf("Expected the report to name the notification, got: %v", angry.reported[0])
	}
}

func TestObserver_LifecycleNotifications(t *testing.T) {
	machine := CreateMessageMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()
	machine.Tick(0)
	machine.SendMessage("start")
	_ = machine.Stop()

	if observer.Started != 1 {
		t.Errorf("Expected one started notification, got %d", observer.Started)
	}
	if observer.Stopped != 1 {
		t.Errorf("Expected one stopped notification, got %d", observer.Stopped)
	}
	wantEnters := []string{"idle", "running"}
	if observer.EnterCount() != len(wantEnters) {
		t.Fatalf("Expected %d enters, got %d", len(wantEnters), observer.EnterCount())
	}
	for i, name := range wantEnters {
		if observer.Enters[i].Name != name {
			t.Errorf("Enter %d: expected %q, got %q", i, name, observer.Enters[i].Name)
		}
	}
	// idle left on the fire, running left on stop
	wantLeaves := []string{"idle", "running"}
	if observer.LeaveCount() != len(wantLeaves) {
		t.Fatalf("Expected %d leaves, got %d", len(wantLeaves), observer.LeaveCount())
	}
	for i, name := range wantLeaves {
		if observer.Leaves[i].Name != name {
			t.Errorf("Leave %d: expected %q, got %q", i, name, observer.Leaves[i].Name)
		}
	}
}

func TestObserver_FireEventCarriesEndpoints(t *testing.T) {
	machine := CreateMessageMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)
	StartTicked(t, machine)

	machine.SendMessage("start")

	fire := observer.LastFire()
	if fire == nil {
		t.Fatal("Expected a fire event")
	}
	if fire.From != "idle" || fire.To != "running" {
		t.Errorf("Expected idle -> running, got %s -> %s", fire.From, fire.To)
	}
	if machine.Transition(fire.TransitionID) == nil {
		t.Error("Expected the fired transition id to resolve")
	}
}
