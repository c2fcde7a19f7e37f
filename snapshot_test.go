package motus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSnapshotFixture(t *testing.T) (*StateMachine, *Registry) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterHook("announce", func(ctx *Context) error { return nil }))
	require.NoError(t, reg.RegisterCondition("armed", func(ctx *Context) bool { return true }))
	require.NoError(t, reg.RegisterAction("ping", func(ctx *Context) error { return nil }))

	m := New(WithSeed(3), WithRegistry(reg))
	idle := m.AddState().SetName("idle").SetPosition(0, 0).
		OnEnterRef("announce", mustHook(reg, "announce"))
	alert := m.AddState().SetName("alert").SetPosition(120, 40)
	calm := m.AddState().SetName("calm")

	toAlert, err := m.AddTransition(idle, alert)
	require.NoError(t, err)
	toAlert.WithMessage("noise")

	cond, _ := reg.Condition("armed")
	act, _ := reg.Action("ping")
	back, err := m.AddTransition(alert, calm)
	require.NoError(t, err)
	back.WithWindow(1, 3).WithConditionRef("armed", cond).WithActionRef("ping", act)

	settle, err := m.AddTransition(calm, idle)
	require.NoError(t, err)
	settle.WithDelay(2)

	require.NoError(t, m.SetInitialState(idle))
	return m, reg
}

func mustHook(reg *Registry, name string) Hook {
	fn, ok := reg.Hook(name)
	if !ok {
		panic("missing hook " + name)
	}
	return fn
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m, reg := buildSnapshotFixture(t)
	require.NoError(t, m.Start())
	m.Tick(0.5)

	snap := m.Snapshot()
	restored, err := Restore(snap, WithRegistry(reg), WithSeed(3))
	require.NoError(t, err)

	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, m.ID(), restored.ID())
	assert.Equal(t, m.StateTime(), restored.StateTime())
	assert.True(t, restored.Started())
	require.NotNil(t, restored.CurrentState())
	assert.Equal(t, "idle", restored.CurrentState().Name())
}

func TestSnapshot_RecordsGraphShape(t *testing.T) {
	m, _ := buildSnapshotFixture(t)

	snap := m.Snapshot()

	require.Len(t, snap.States, 3)
	require.Len(t, snap.Transitions, 3)
	assert.Equal(t, []string{"announce"}, snap.States[0].Enter)
	assert.Equal(t, 120.0, snap.States[1].X)

	window := snap.Transitions[1]
	require.NotNil(t, window.MinDelay)
	require.NotNil(t, window.MaxDelay)
	assert.Equal(t, 1.0, *window.MinDelay)
	assert.Equal(t, 3.0, *window.MaxDelay)
	assert.Equal(t, "armed", window.Condition)
	assert.Equal(t, "ping", window.Action)

	msg := snap.Transitions[0]
	require.NotNil(t, msg.Message)
	assert.Equal(t, "noise", *msg.Message)
	assert.Nil(t, msg.MinDelay)
}

func TestSnapshot_NextIDContinuity(t *testing.T) {
	m, reg := buildSnapshotFixture(t)
	snap := m.Snapshot()

	restored, err := Restore(snap, WithRegistry(reg))
	require.NoError(t, err)

	used := make(map[int]bool)
	for _, s := range restored.States() {
		used[s.ID()] = true
	}
	for _, tr := range restored.Transitions() {
		used[tr.ID()] = true
	}

	fresh := restored.AddState()
	assert.False(t, used[fresh.ID()], "new ids must not collide with restored ones")
}

func TestSnapshot_AnonymousCallbacksOmitted(t *testing.T) {
	m := New(WithSeed(1))
	a := m.AddState().SetName("a").OnEnter(func(ctx *Context) error { return nil })
	b := m.AddState().SetName("b")
	tr, _ := m.AddTransition(a, b)
	tr.WithMessage("go").WithCondition(func(ctx *Context) bool { return true })

	snap := m.Snapshot()

	assert.Empty(t, snap.States[0].Enter)
	assert.Empty(t, snap.Transitions[0].Condition)

	// restoring needs no registry since nothing is referenced by name
	restored, err := Restore(snap)
	require.NoError(t, err)
	assert.False(t, restored.Transition(tr.ID()).HasCondition())
}

func TestRestore_Errors(t *testing.T) {
	base := func() *Snapshot {
		return &Snapshot{
			Machine: "0191e7a0-0000-7000-8000-000000000001",
			States: []StateSnapshot{
				{ID: 1, Name: "a"},
				{ID: 2, Name: "b"},
			},
			Transitions: []TransitionSnapshot{
				{ID: 3, Source: 1, Target: 2},
			},
		}
	}
	f := 1.0
	msg := "go"

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := Restore(nil)
		assert.True(t, IsSnapshotError(err))
	})

	t.Run("bad machine id", func(t *testing.T) {
		snap := base()
		snap.Machine = "not-a-uuid"
		_, err := Restore(snap)
		assert.True(t, IsSnapshotError(err))
	})

	t.Run("nonpositive state id", func(t *testing.T) {
		snap := base()
		snap.States[0].ID = 0
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeBadSnapshot, GetErrorCode(err))
	})

	t.Run("duplicate state id", func(t *testing.T) {
		snap := base()
		snap.States[1].ID = 1
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeDuplicateID, GetErrorCode(err))
	})

	t.Run("duplicate transition id", func(t *testing.T) {
		snap := base()
		snap.Transitions = append(snap.Transitions, TransitionSnapshot{ID: 3, Source: 1, Target: 2})
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeDuplicateID, GetErrorCode(err))
	})

	t.Run("transition id collides with state", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].ID = 2
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeDuplicateID, GetErrorCode(err))
	})

	t.Run("unknown source", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].Source = 9
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownState, GetErrorCode(err))
	})

	t.Run("unknown target", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].Target = 9
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownState, GetErrorCode(err))
	})

	t.Run("delay and message together", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].MinDelay = &f
		snap.Transitions[0].Message = &msg
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeBadSnapshot, GetErrorCode(err))
	})

	t.Run("inverted delay window", func(t *testing.T) {
		snap := base()
		minD, maxD := 5.0, 1.0
		snap.Transitions[0].MinDelay = &minD
		snap.Transitions[0].MaxDelay = &maxD
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeBadSnapshot, GetErrorCode(err))
	})

	t.Run("unknown condition ref", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].Condition = "missing"
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownRef, GetErrorCode(err))
	})

	t.Run("unknown action ref", func(t *testing.T) {
		snap := base()
		snap.Transitions[0].Action = "missing"
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownRef, GetErrorCode(err))
	})

	t.Run("unknown hook ref", func(t *testing.T) {
		snap := base()
		snap.States[0].Enter = []string{"missing"}
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownRef, GetErrorCode(err))
	})

	t.Run("unknown initial state", func(t *testing.T) {
		snap := base()
		snap.InitialState = 9
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownState, GetErrorCode(err))
	})

	t.Run("unknown current state", func(t *testing.T) {
		snap := base()
		snap.CurrentState = 9
		_, err := Restore(snap)
		assert.Equal(t, ErrCodeUnknownState, GetErrorCode(err))
	})
}

func TestSnapshot_EncodeDecodeJSON(t *testing.T) {
	m, _ := buildSnapshotFixture(t)
	snap := m.Snapshot()

	data, err := snap.EncodeJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"machine"`)

	decoded, err := DecodeSnapshotJSON(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	_, err = DecodeSnapshotJSON([]byte("{"))
	assert.Error(t, err)
}

func TestSnapshot_EncodeDecodeYAML(t *testing.T) {
	m, _ := buildSnapshotFixture(t)
	snap := m.Snapshot()

	data, err := snap.EncodeYAML()
	require.NoError(t, err)

	decoded, err := DecodeSnapshotYAML(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	_, err = DecodeSnapshotYAML([]byte("{"))
	assert.Error(t, err)
}

func TestSnapshot_FileRoundTrip(t *testing.T) {
	m, _ := buildSnapshotFixture(t)
	snap := m.Snapshot()
	dir := t.TempDir()

	for _, name := range []string{"machine.json", "machine.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, snap.WriteFile(path))

		loaded, err := ReadSnapshotFile(path)
		require.NoError(t, err)
		assert.Equal(t, snap, loaded, name)
	}

	err := snap.WriteFile(filepath.Join(dir, "machine.txt"))
	assert.True(t, IsSnapshotError(err))

	_, err = ReadSnapshotFile(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)
}

func TestSnapshot_RestoredMachineResumesTicking(t *testing.T) {
	m := CreateTimedMachine()
	require.NoError(t, m.Start())
	m.Tick(0)
	m.Tick(1)
	m.Tick(1)

	restored, err := Restore(m.Snapshot(), WithSeed(1))
	require.NoError(t, err)

	assert.Equal(t, 2.0, restored.StateTime())
	require.NotNil(t, restored.CurrentState())
	assert.Equal(t, "red", restored.CurrentState().Name())

	// red holds for 3 seconds; one more second reaches the instant and
	// the following tick fires it
	restored.Tick(1)
	assert.Equal(t, "red", restored.CurrentState().Name())
	restored.Tick(1)
	assert.Equal(t, "green", restored.CurrentState().Name())
}
