package motus

import "log/slog"

// LoggingObserver logs machine lifecycle notifications through slog. Attach
// one to trace a machine without touching its hooks.
type LoggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver creates a logging observer. A nil logger means
// slog.Default.
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{logger: logger}
}

// OnTransitionFired logs completed fires
func (o *LoggingObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	o.logger.Info("transition fired",
		"machine", m.ID(), "transition", t.ID(), "from", from.Name(), "to", to.Name())
}

// OnStateEntered logs state entries
func (o *LoggingObserver) OnStateEntered(m *StateMachine, s *State) {
	o.logger.Debug("state entered", "machine", m.ID(), "state", s.ID(), "name", s.Name())
}

// OnStateLeft logs state exits
func (o *LoggingObserver) OnStateLeft(m *StateMachine, s *State) {
	o.logger.Debug("state left", "machine", m.ID(), "state", s.ID(), "name", s.Name())
}

// OnMachineStarted logs machine activation
func (o *LoggingObserver) OnMachineStarted(m *StateMachine) {
	o.logger.Info("machine started", "machine", m.ID(), "role", m.Role())
}

// OnMachineStopped logs machine deactivation
func (o *LoggingObserver) OnMachineStopped(m *StateMachine) {
	o.logger.Info("machine stopped", "machine", m.ID())
}

// OnCascadeOverflow logs abandoned ticks
func (o *LoggingObserver) OnCascadeOverflow(m *StateMachine, s *State, fired int) {
	o.logger.Error("instant transition cascade exceeded",
		"machine", m.ID(), "state", s.ID(), "fired", fired)
}

// OnHookError logs isolated callback failures
func (o *LoggingObserver) OnHookError(m *StateMachine, s *State, err error) {
	o.logger.Warn("callback failed", "machine", m.ID(), "state", stateID(s), "error", err)
}
