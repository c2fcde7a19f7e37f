package motus

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateMachine owns a graph of states and transitions and advances it once
// per simulation tick. States and transitions are arena-allocated: the
// machine assigns monotonically increasing ids and removal invalidates the
// handles it gave out.
//
// A machine serializes its own public operations with an internal mutex.
// Hooks, conditions, and actions run while that mutex is held: callbacks
// work through their Context and must not call back into the machine's API.
type StateMachine struct {
	mu sync.RWMutex

	id     uuid.UUID
	role   Role
	logger *slog.Logger

	states      map[int]*State
	transitions map[int]*Transition
	nextID      int

	initialID int
	currentID int

	stateTime    float64
	started      bool
	enterPending bool

	rng        *rand.Rand
	seq        uint64
	appliedSeq uint64

	replicator Replicator
	registry   *Registry
	observers  *observerManager
	data       any
}

// Option configures a machine at construction time
type Option func(*StateMachine)

// WithLogger sets the machine's structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *StateMachine) {
		m.logger = logger
	}
}

// WithRole sets the machine's replication role
func WithRole(role Role) Option {
	return func(m *StateMachine) {
		m.role = role
	}
}

// WithSeed seeds the source used to sample delay windows, making firing
// instants reproducible
func WithSeed(seed int64) Option {
	return func(m *StateMachine) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand sets the source used to sample delay windows
func WithRand(rng *rand.Rand) Option {
	return func(m *StateMachine) {
		m.rng = rng
	}
}

// WithReplicator sets the outbound channel for replicated fires
func WithReplicator(r Replicator) Option {
	return func(m *StateMachine) {
		m.replicator = r
	}
}

// WithObserver registers an observer at construction time
func WithObserver(o Observer) Option {
	return func(m *StateMachine) {
		m.observers.Add(o)
	}
}

// WithRegistry sets the named callback registry used when restoring
// snapshots
func WithRegistry(reg *Registry) Option {
	return func(m *StateMachine) {
		m.registry = reg
	}
}

// WithID sets the machine identity. Replicas share the authority's id so
// notifications route to them.
func WithID(id uuid.UUID) Option {
	return func(m *StateMachine) {
		m.id = id
	}
}

// WithData installs the host payload handed to callbacks through Context
func WithData(data any) Option {
	return func(m *StateMachine) {
		m.data = data
	}
}

// New creates an empty state machine. Without options it is authoritative,
// logs through slog.Default, and samples delays from a time-seeded source.
func New(opts ...Option) *StateMachine {
	m := &StateMachine{
		id:          uuid.New(),
		role:        RoleAuthority,
		logger:      slog.Default(),
		states:      make(map[int]*State),
		transitions: make(map[int]*Transition),
		nextID:      1,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		observers:   newObserverManager(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the machine identity used to route replicated fires
func (m *StateMachine) ID() uuid.UUID {
	return m.id
}

// Role returns the machine's replication role
func (m *StateMachine) Role() Role {
	return m.role
}

// Registry returns the named callback registry, or nil if none was set
func (m *StateMachine) Registry() *Registry {
	return m.registry
}

// SetData installs the host payload handed to callbacks through Context
func (m *StateMachine) SetData(data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}

// Data returns the host payload
func (m *StateMachine) Data() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// AddObserver registers an observer for machine notifications
func (m *StateMachine) AddObserver(o Observer) {
	m.observers.Add(o)
}

// RemoveObserver unregisters a previously added observer
func (m *StateMachine) RemoveObserver(o Observer) {
	m.observers.Remove(o)
}

// AddState creates a new state owned by this machine. The first state added
// becomes the initial state when none is set.
func (m *StateMachine) AddState() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &State{
		id:      m.nextID,
		machine: m,
		valid:   true,
		dirty:   true,
	}
	m.nextID++
	m.states[s.id] = s
	if m.initialID == 0 {
		m.initialID = s.id
	}
	return s
}

// RemoveState removes a state and every transition touching it. Removing a
// nil or already-removed state is a no-op; a state owned by another machine
// is an error. The initial and current pointers are cleared if they
// referenced the state.
func (m *StateMachine) RemoveState(s *State) error {
	if s == nil || !s.valid {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.machine != m || m.states[s.id] != s {
		return NewInvalidStateError(ErrCodeNotOwned, s.id, "state belongs to a different machine")
	}
	for _, t := range m.transitions {
		if t.valid && (t.source == s || t.target == s) {
			m.removeTransitionLocked(t)
		}
	}
	if m.initialID == s.id {
		m.initialID = 0
	}
	if m.currentID == s.id {
		m.currentID = 0
		m.enterPending = false
	}
	delete(m.states, s.id)
	s.invalidate()
	return nil
}

// AddTransition creates a transition between two states of this machine
func (m *StateMachine) AddTransition(source, target *State) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source == nil || !source.valid {
		return nil, NewInvalidStateError(ErrCodeInvalidEntity, stateID(source), "source state is not valid")
	}
	if target == nil || !target.valid {
		return nil, NewInvalidStateError(ErrCodeInvalidEntity, stateID(target), "target state is not valid")
	}
	if source.machine != m {
		return nil, NewInvalidStateError(ErrCodeNotOwned, source.id, "source state belongs to a different machine")
	}
	if target.machine != m {
		return nil, NewInvalidStateError(ErrCodeNotOwned, target.id, "target state belongs to a different machine")
	}
	t := &Transition{
		id:      m.nextID,
		machine: m,
		source:  source,
		target:  target,
		valid:   true,
	}
	m.nextID++
	m.transitions[t.id] = t
	source.markDirty()
	return t, nil
}

// RemoveTransition removes a transition from the machine. Removing a nil or
// already-removed transition is a no-op; a foreign transition is an error.
func (m *StateMachine) RemoveTransition(t *Transition) error {
	if t == nil || !t.valid {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.machine != m || m.transitions[t.id] != t {
		return NewTransitionError(ErrCodeNotOwned, t.id, "transition belongs to a different machine")
	}
	m.removeTransitionLocked(t)
	return nil
}

func (m *StateMachine) removeTransitionLocked(t *Transition) {
	if t.source != nil && t.source.valid {
		t.source.markDirty()
	}
	delete(m.transitions, t.id)
	t.invalidate()
}

// SetInitialState sets the state made current on start. Passing nil clears
// it.
func (m *StateMachine) SetInitialState(s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.initialID = 0
		return nil
	}
	if !s.valid {
		return NewInvalidStateError(ErrCodeInvalidEntity, s.id, "state is not valid")
	}
	if s.machine != m {
		return NewInvalidStateError(ErrCodeNotOwned, s.id, "state belongs to a different machine")
	}
	m.initialID = s.id
	return nil
}

// InitialState returns the configured initial state, or nil
func (m *StateMachine) InitialState() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[m.initialID]
}

// CurrentState returns the current state, or nil when the machine is
// stopped or has no active state
func (m *StateMachine) CurrentState() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[m.currentID]
}

// State returns the state with the given id, or nil
func (m *StateMachine) State(id int) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}

// Transition returns the transition with the given id, or nil
func (m *StateMachine) Transition(id int) *Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions[id]
}

// States returns all states in ascending id order
func (m *StateMachine) States() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Transitions returns all transitions in ascending id order
func (m *StateMachine) Transitions() []*Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transition, 0, len(m.transitions))
	for _, t := range m.transitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of states and transitions in the graph
func (m *StateMachine) Len() (states, transitions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states), len(m.transitions)
}

// StateTime returns the seconds accumulated in the current state
func (m *StateMachine) StateTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateTime
}

// Started reports whether the machine is running
func (m *StateMachine) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Start activates the machine. An authority with an initial state makes it
// current; the enter dispatch is deferred to the first tick. Replicas leave
// the current state unset and adopt the authority's through replication.
func (m *StateMachine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return NewAlreadyStartedError("start")
	}
	m.started = true
	m.stateTime = 0
	m.currentID = 0
	m.enterPending = false
	if m.role != RoleReplica && m.initialID != 0 {
		m.currentID = m.initialID
		m.enterPending = true
	}
	m.logger.Debug("machine started", "machine", m.id, "role", m.role, "state", m.currentID)
	m.observers.notifyStarted(m)
	return nil
}

// Stop deactivates the machine, dispatching leave on the current state if
// its enter already ran
func (m *StateMachine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return NewNotStartedError("stop")
	}
	if cur := m.states[m.currentID]; cur != nil && !m.enterPending {
		m.dispatchLeave(cur, nil)
	}
	m.currentID = 0
	m.started = false
	m.enterPending = false
	m.logger.Debug("machine stopped", "machine", m.id)
	m.observers.notifyStopped(m)
	return nil
}

// Reset returns the machine to its pre-start conditions without touching
// the graph. No leave hooks run.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.enterPending = false
	m.currentID = 0
	m.stateTime = 0
	m.seq = 0
	m.appliedSeq = 0
}

// SyncCurrent force-sets the current state without firing a transition. It
// is the entry point for replication layers mirroring the authority's
// current state onto a replica; the enter dispatch runs on the next tick,
// exactly as after a fresh start. Passing 0 clears the current state.
func (m *StateMachine) SyncCurrent(stateID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stateID == 0 {
		m.currentID = 0
		m.enterPending = false
		m.stateTime = 0
		return nil
	}
	s := m.states[stateID]
	if s == nil {
		return NewUnknownStateError(stateID)
	}
	m.currentID = stateID
	m.stateTime = 0
	m.enterPending = true
	return nil
}

// Tick advances the machine by dt seconds. The first tick after activation
// dispatches the deferred enter. An authority then resolves and fires
// eligible transitions, cascading through instant ones up to
// MaxInstantTransitions; replicas only accumulate state time. Finally
// update hooks run on the resulting current state. Negative deltas count as
// zero.
func (m *StateMachine) Tick(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	if dt < 0 {
		dt = 0
	}
	cur := m.states[m.currentID]
	if cur == nil {
		return
	}
	if m.enterPending {
		m.enterPending = false
		cur.armOutgoing(m.rng)
		m.dispatchEnter(cur, nil)
	}
	if m.role != RoleReplica {
		cur = m.resolveTick(cur, dt)
	} else {
		m.stateTime += dt
	}
	if cur != nil {
		m.dispatchUpdate(cur, dt)
	}
}

// resolveTick advances the state clock over the tick window and fires
// eligible transitions in sequence. A transition still resolving after
// MaxInstantTransitions fires means the graph cascades without consuming
// time: the tick is abandoned and the machine left usable.
func (m *StateMachine) resolveTick(cur *State, dt float64) *State {
	prevTime := m.stateTime
	m.stateTime += dt
	for i := 0; ; i++ {
		t := cur.resolveByTime(prevTime, m.stateTime)
		if t == nil {
			return cur
		}
		if i == MaxInstantTransitions {
			m.logger.Error("instant transition cascade exceeded",
				"machine", m.id, "state", cur.id, "limit", MaxInstantTransitions)
			m.observers.notifyCascadeOverflow(m, cur, i)
			return cur
		}
		if d, ok := t.consumedDelay(); ok {
			m.stateTime -= d
			if m.stateTime < 0 {
				m.stateTime = 0
			}
		} else {
			m.stateTime = 0
		}
		prevTime = 0
		cur = m.fire(t)
	}
}

// SendMessage resolves msg against the current state's message transitions
// and fires the first match. Only the authority resolves; a replica reports
// false and waits for the authority's replicated fire. Returns whether a
// transition fired.
func (m *StateMachine) SendMessage(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return false
	}
	if m.role == RoleReplica {
		m.logger.Debug("replica ignoring message", "machine", m.id, "message", msg)
		return false
	}
	cur := m.states[m.currentID]
	if cur == nil {
		return false
	}
	if m.enterPending {
		// a message can arrive before the first tick; run the deferred
		// enter so the fire's leave pairs with it
		m.enterPending = false
		cur.armOutgoing(m.rng)
		m.dispatchEnter(cur, nil)
	}
	t := cur.resolveByMessage(msg)
	if t == nil {
		return false
	}
	m.logger.Debug("message matched", "machine", m.id, "message", msg, "transition", t.id)
	m.stateTime = 0
	m.fire(t)
	return true
}

// ApplyNotification applies an authority's replicated fire to a replica.
// The notification must carry this machine's id, the next sequence number,
// and a transition whose source is the current state; anything else is
// rejected without mutating the machine.
func (m *StateMachine) ApplyNotification(n FireNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.Machine != m.id {
		return NewMachineMismatchError(n.Machine.String(), n.Sequence)
	}
	if m.role != RoleReplica {
		return NewMachineError(ErrCodeNotOwned, "apply notification", "authoritative machines do not apply replicated fires")
	}
	if !m.started {
		return NewNotStartedError("apply notification")
	}
	if n.Sequence <= m.appliedSeq {
		return NewReplicationError(ErrCodeStaleNotification, n.Machine.String(), n.Sequence,
			fmt.Sprintf("sequence %d already applied (at %d)", n.Sequence, m.appliedSeq))
	}
	if n.Sequence != m.appliedSeq+1 {
		return NewReplicationError(ErrCodeSequenceGap, n.Machine.String(), n.Sequence,
			fmt.Sprintf("expected sequence %d", m.appliedSeq+1))
	}
	t := m.transitions[n.TransitionID]
	if t == nil || !t.valid {
		return NewUnknownTransitionError(n.TransitionID)
	}
	if t.source.id != m.currentID {
		return NewTransitionError(ErrCodeInvalidEntity, n.TransitionID,
			fmt.Sprintf("source state %d is not current (current %d)", t.source.id, m.currentID))
	}
	if m.enterPending {
		m.enterPending = false
		m.dispatchEnter(t.source, nil)
	}
	m.appliedSeq = n.Sequence
	m.stateTime = 0
	m.fire(t)
	return nil
}

// fire performs the transition sequence: leave the source, run the action,
// switch the current state, enter the target. Each callback is isolated and
// cannot abort the sequence. Authorities publish the fire through their
// replicator.
func (m *StateMachine) fire(t *Transition) *State {
	src, tgt := t.source, t.target
	m.logger.Debug("firing transition",
		"machine", m.id, "transition", t.id, "from", src.id, "to", tgt.id)

	m.dispatchLeave(src, t)
	m.runAction(t)
	m.currentID = tgt.id
	t.lastFiredAt = time.Now()
	tgt.armOutgoing(m.rng)
	m.dispatchEnter(tgt, t)

	m.observers.notifyTransitionFired(m, src, tgt, t)
	m.publishFire(t)
	return tgt
}

func (m *StateMachine) publishFire(t *Transition) {
	if m.role == RoleReplica || m.replicator == nil {
		return
	}
	m.seq++
	n := FireNotification{Machine: m.id, Sequence: m.seq, TransitionID: t.id}
	if err := m.replicator.Publish(n); err != nil {
		m.logger.Error("replication publish failed",
			"machine", m.id, "seq", n.Sequence, "transition", t.id, "error", err)
	}
}

func (m *StateMachine) newContext(s *State, t *Transition) *Context {
	return &Context{
		Machine:    m,
		State:      s,
		Transition: t,
		StateTime:  m.stateTime,
		Data:       m.data,
		Logger:     m.logger,
	}
}

func (m *StateMachine) dispatchEnter(s *State, t *Transition) {
	m.runHooks(s, "enter", s.enter, m.newContext(s, t))
	m.observers.notifyStateEntered(m, s)
}

func (m *StateMachine) dispatchLeave(s *State, t *Transition) {
	m.runHooks(s, "leave", s.leave, m.newContext(s, t))
	m.observers.notifyStateLeft(m, s)
}

func (m *StateMachine) dispatchUpdate(s *State, dt float64) {
	ctx := m.newContext(s, nil)
	ctx.Delta = dt
	m.runHooks(s, "update", s.update, ctx)
}

func (m *StateMachine) runHooks(s *State, phase string, hooks []namedHook, ctx *Context) {
	for _, h := range hooks {
		if h.fn == nil {
			continue
		}
		if err := safeInvokeHook(h.fn, ctx); err != nil {
			m.logger.Warn("hook failed",
				"machine", m.id, "state", s.id, "phase", phase, "hook", h.name, "error", err)
			m.observers.notifyHookError(m, s, err)
		}
	}
}

// evaluateCondition runs a transition's guard with panic recovery; a panic
// counts as not satisfied
func (m *StateMachine) evaluateCondition(t *Transition, msg string) bool {
	ctx := m.newContext(t.source, t)
	ctx.Message = msg
	ok, err := safeEvaluateCondition(t.condition, ctx)
	if err != nil {
		m.logger.Warn("condition panicked",
			"machine", m.id, "transition", t.id, "condition", t.conditionName, "error", err)
		m.observers.notifyHookError(m, t.source, err)
		return false
	}
	return ok
}

func (m *StateMachine) runAction(t *Transition) {
	if t.action == nil {
		return
	}
	if err := safeExecuteAction(t.action, m.newContext(t.source, t)); err != nil {
		m.logger.Warn("transition action failed",
			"machine", m.id, "transition", t.id, "action", t.actionName, "error", err)
		m.observers.notifyHookError(m, t.source, err)
	}
}

// safeInvokeHook runs a hook with panic recovery
func safeInvokeHook(hook Hook, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()

	err = hook(ctx)
	return err
}

// safeEvaluateCondition evaluates a condition with panic recovery
func safeEvaluateCondition(condition Condition, ctx *Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("condition panic: %v", r)
		}
	}()

	result = condition(ctx)
	return result, nil
}

// safeExecuteAction runs an action with panic recovery
func safeExecuteAction(action Action, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	err = action(ctx)
	return err
}

func stateID(s *State) int {
	if s == nil {
		return 0
	}
	return s.id
}
