package motus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Snapshot is the serialized form of a machine: the full graph plus the
// runtime fields needed to resume or mirror it. Callback attachments made
// through the Ref variants are recorded by registry name; anonymous
// callbacks are omitted. Sampled firing instants are not persisted and are
// redrawn after restore.
type Snapshot struct {
	Machine      string               `json:"machine" yaml:"machine"`
	NextID       int                  `json:"nextId" yaml:"nextId"`
	InitialState int                  `json:"initialState,omitempty" yaml:"initialState,omitempty"`
	CurrentState int                  `json:"currentState,omitempty" yaml:"currentState,omitempty"`
	StateTime    float64              `json:"stateTime,omitempty" yaml:"stateTime,omitempty"`
	Started      bool                 `json:"started,omitempty" yaml:"started,omitempty"`
	States       []StateSnapshot      `json:"states" yaml:"states"`
	Transitions  []TransitionSnapshot `json:"transitions" yaml:"transitions"`
}

// StateSnapshot is the serialized form of one state
type StateSnapshot struct {
	ID     int      `json:"id" yaml:"id"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Enter  []string `json:"enter,omitempty" yaml:"enter,omitempty"`
	Update []string `json:"update,omitempty" yaml:"update,omitempty"`
	Leave  []string `json:"leave,omitempty" yaml:"leave,omitempty"`
	X      float64  `json:"x,omitempty" yaml:"x,omitempty"`
	Y      float64  `json:"y,omitempty" yaml:"y,omitempty"`
}

// TransitionSnapshot is the serialized form of one transition
type TransitionSnapshot struct {
	ID        int      `json:"id" yaml:"id"`
	Source    int      `json:"source" yaml:"source"`
	Target    int      `json:"target" yaml:"target"`
	MinDelay  *float64 `json:"minDelay,omitempty" yaml:"minDelay,omitempty"`
	MaxDelay  *float64 `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
	Message   *string  `json:"message,omitempty" yaml:"message,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Action    string   `json:"action,omitempty" yaml:"action,omitempty"`
}

// Snapshot captures the machine's graph and runtime fields
func (m *StateMachine) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Machine:      m.id.String(),
		NextID:       m.nextID,
		InitialState: m.initialID,
		CurrentState: m.currentID,
		StateTime:    m.stateTime,
		Started:      m.started,
	}

	stateIDs := make([]int, 0, len(m.states))
	for id := range m.states {
		stateIDs = append(stateIDs, id)
	}
	sort.Ints(stateIDs)
	for _, id := range stateIDs {
		s := m.states[id]
		x, y := s.Position()
		snap.States = append(snap.States, StateSnapshot{
			ID:     s.id,
			Name:   s.name,
			Enter:  hookNames(s.enter),
			Update: hookNames(s.update),
			Leave:  hookNames(s.leave),
			X:      x,
			Y:      y,
		})
	}

	transitionIDs := make([]int, 0, len(m.transitions))
	for id := range m.transitions {
		transitionIDs = append(transitionIDs, id)
	}
	sort.Ints(transitionIDs)
	for _, id := range transitionIDs {
		t := m.transitions[id]
		ts := TransitionSnapshot{
			ID:        t.id,
			Source:    t.source.id,
			Target:    t.target.id,
			Condition: t.conditionName,
			Action:    t.actionName,
		}
		if t.hasMinDelay {
			v := t.minDelay
			ts.MinDelay = &v
		}
		if t.hasMaxDelay {
			v := t.maxDelay
			ts.MaxDelay = &v
		}
		if t.hasMessage {
			v := t.message
			ts.Message = &v
		}
		snap.Transitions = append(snap.Transitions, ts)
	}
	return snap
}

// Restore rebuilds a machine from a snapshot. Ref names resolve against the
// registry passed with WithRegistry; duplicate ids, dangling references, and
// contradictory triggers are errors. The machine identity is preserved, so a
// replica restored from the authority's snapshot shares its id.
func Restore(snap *Snapshot, opts ...Option) (*StateMachine, error) {
	if snap == nil {
		return nil, NewSnapshotError("snapshot is nil")
	}
	m := New(opts...)
	if snap.Machine != "" {
		id, err := uuid.Parse(snap.Machine)
		if err != nil {
			return nil, NewSnapshotError(fmt.Sprintf("bad machine id %q: %v", snap.Machine, err))
		}
		m.id = id
	}

	maxID := 0
	for _, ss := range snap.States {
		if ss.ID <= 0 {
			return nil, NewStateError(ErrCodeBadSnapshot, ss.ID, "state id must be positive")
		}
		if _, dup := m.states[ss.ID]; dup {
			return nil, NewStateError(ErrCodeDuplicateID, ss.ID, "state id declared twice")
		}
		s := &State{
			id:      ss.ID,
			machine: m,
			name:    ss.Name,
			valid:   true,
			dirty:   true,
			x:       ss.X,
			y:       ss.Y,
		}
		var err error
		if s.enter, err = resolveHooks(m, ss.ID, "enter", ss.Enter); err != nil {
			return nil, err
		}
		if s.update, err = resolveHooks(m, ss.ID, "update", ss.Update); err != nil {
			return nil, err
		}
		if s.leave, err = resolveHooks(m, ss.ID, "leave", ss.Leave); err != nil {
			return nil, err
		}
		m.states[ss.ID] = s
		if ss.ID > maxID {
			maxID = ss.ID
		}
	}

	for _, ts := range snap.Transitions {
		if ts.ID <= 0 {
			return nil, NewTransitionError(ErrCodeBadSnapshot, ts.ID, "transition id must be positive")
		}
		if _, dup := m.transitions[ts.ID]; dup {
			return nil, NewTransitionError(ErrCodeDuplicateID, ts.ID, "transition id declared twice")
		}
		if _, dup := m.states[ts.ID]; dup {
			return nil, NewTransitionError(ErrCodeDuplicateID, ts.ID, "id already used by a state")
		}
		src := m.states[ts.Source]
		if src == nil {
			return nil, NewTransitionError(ErrCodeUnknownState, ts.ID,
				fmt.Sprintf("source state %d not found", ts.Source))
		}
		tgt := m.states[ts.Target]
		if tgt == nil {
			return nil, NewTransitionError(ErrCodeUnknownState, ts.ID,
				fmt.Sprintf("target state %d not found", ts.Target))
		}
		t := &Transition{
			id:      ts.ID,
			machine: m,
			source:  src,
			target:  tgt,
			valid:   true,
		}
		if ts.MinDelay != nil {
			t.minDelay, t.hasMinDelay = *ts.MinDelay, true
		}
		if ts.MaxDelay != nil {
			t.maxDelay, t.hasMaxDelay = *ts.MaxDelay, true
		}
		if t.hasMinDelay && t.hasMaxDelay && t.minDelay > t.maxDelay {
			return nil, NewTransitionError(ErrCodeBadSnapshot, ts.ID, "minDelay exceeds maxDelay")
		}
		if ts.Message != nil {
			if t.HasDelay() {
				return nil, NewTransitionError(ErrCodeBadSnapshot, ts.ID, "delay and message are mutually exclusive")
			}
			t.message, t.hasMessage = *ts.Message, true
		}
		if ts.Condition != "" {
			fn, err := registryCondition(m, ts.ID, ts.Condition)
			if err != nil {
				return nil, err
			}
			t.condition = fn
			t.conditionName = ts.Condition
		}
		if ts.Action != "" {
			fn, err := registryAction(m, ts.ID, ts.Action)
			if err != nil {
				return nil, err
			}
			t.action = fn
			t.actionName = ts.Action
		}
		m.transitions[ts.ID] = t
		src.markDirty()
		if ts.ID > maxID {
			maxID = ts.ID
		}
	}

	m.nextID = maxID + 1
	if snap.NextID > m.nextID {
		m.nextID = snap.NextID
	}
	if snap.InitialState != 0 {
		if m.states[snap.InitialState] == nil {
			return nil, NewStateError(ErrCodeUnknownState, snap.InitialState, "initial state not found")
		}
		m.initialID = snap.InitialState
	}
	if snap.CurrentState != 0 {
		if m.states[snap.CurrentState] == nil {
			return nil, NewStateError(ErrCodeUnknownState, snap.CurrentState, "current state not found")
		}
		m.currentID = snap.CurrentState
	}
	m.stateTime = snap.StateTime
	m.started = snap.Started
	return m, nil
}

func hookNames(hooks []namedHook) []string {
	var names []string
	for _, h := range hooks {
		if h.name != "" {
			names = append(names, h.name)
		}
	}
	return names
}

func resolveHooks(m *StateMachine, stateID int, phase string, names []string) ([]namedHook, error) {
	if len(names) == 0 {
		return nil, nil
	}
	hooks := make([]namedHook, 0, len(names))
	for _, name := range names {
		var fn Hook
		var ok bool
		if m.registry != nil {
			fn, ok = m.registry.Hook(name)
		}
		if !ok {
			return nil, NewUnknownRefError(fmt.Sprintf("state %d %s hook", stateID, phase), name)
		}
		hooks = append(hooks, namedHook{name: name, fn: fn})
	}
	return hooks, nil
}

func registryCondition(m *StateMachine, transitionID int, name string) (Condition, error) {
	if m.registry != nil {
		if fn, ok := m.registry.Condition(name); ok {
			return fn, nil
		}
	}
	return nil, NewUnknownRefError(fmt.Sprintf("transition %d condition", transitionID), name)
}

func registryAction(m *StateMachine, transitionID int, name string) (Action, error) {
	if m.registry != nil {
		if fn, ok := m.registry.Action(name); ok {
			return fn, nil
		}
	}
	return nil, NewUnknownRefError(fmt.Sprintf("transition %d action", transitionID), name)
}

// EncodeJSON renders the snapshot as indented JSON
func (s *Snapshot) EncodeJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

// EncodeYAML renders the snapshot as YAML
func (s *Snapshot) EncodeYAML() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal: %w", err)
	}
	return data, nil
}

// DecodeSnapshotJSON parses a JSON snapshot
func DecodeSnapshotJSON(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return &snap, nil
}

// DecodeSnapshotYAML parses a YAML snapshot
func DecodeSnapshotYAML(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return &snap, nil
}

// WriteFile writes the snapshot to path, choosing the codec from the
// extension: .json, .yaml, or .yml
func (s *Snapshot) WriteFile(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = s.EncodeJSON()
	case ".yaml", ".yml":
		data, err = s.EncodeYAML()
	default:
		return NewSnapshotError(fmt.Sprintf("unsupported snapshot extension %q", filepath.Ext(path)))
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshotFile reads a snapshot from path, choosing the codec from the
// extension: .json, .yaml, or .yml
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeSnapshotJSON(data)
	case ".yaml", ".yml":
		return DecodeSnapshotYAML(data)
	default:
		return nil, NewSnapshotError(fmt.Sprintf("unsupported snapshot extension %q", filepath.Ext(path)))
	}
}
