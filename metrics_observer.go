package motus

import (
	"fmt"
	"sync"
	"time"
)

// MetricsObserver collects counters about a machine's execution: visits and
// wall-clock time per state, fires per transition, cascade overflows, and
// isolated callback failures.
type MetricsObserver struct {
	mu sync.RWMutex

	stateVisits    map[string]int
	stateTimeSpent map[string]time.Duration
	fireCounts     map[string]int
	overflowCount  int
	hookErrorCount int
	lastEntry      map[string]time.Time
}

// NewMetricsObserver creates an empty metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		stateVisits:    make(map[string]int),
		stateTimeSpent: make(map[string]time.Duration),
		fireCounts:     make(map[string]int),
		lastEntry:      make(map[string]time.Time),
	}
}

func metricKey(s *State) string {
	if s == nil {
		return "none"
	}
	if name := s.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("state-%d", s.ID())
}

// OnTransitionFired records the fire under its "from->to" key
func (o *MetricsObserver) OnTransitionFired(m *StateMachine, from, to *State, t *Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fireCounts[metricKey(from)+"->"+metricKey(to)]++
}

// OnStateEntered records the visit and stamps the entry time
func (o *MetricsObserver) OnStateEntered(m *StateMachine, s *State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metricKey(s)
	o.stateVisits[key]++
	o.lastEntry[key] = time.Now()
}

// OnStateLeft accumulates the time spent since the matching entry
func (o *MetricsObserver) OnStateLeft(m *StateMachine, s *State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := metricKey(s)
	if entered, ok := o.lastEntry[key]; ok {
		o.stateTimeSpent[key] += time.Since(entered)
		delete(o.lastEntry, key)
	}
}

// OnMachineStarted implements ExtendedObserver
func (o *MetricsObserver) OnMachineStarted(m *StateMachine) {}

// OnMachineStopped implements ExtendedObserver
func (o *MetricsObserver) OnMachineStopped(m *StateMachine) {}

// OnCascadeOverflow counts abandoned ticks
func (o *MetricsObserver) OnCascadeOverflow(m *StateMachine, s *State, fired int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overflowCount++
}

// OnHookError counts isolated callback failures
func (o *MetricsObserver) OnHookError(m *StateMachine, s *State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hookErrorCount++
}

// Visits returns how often the state was entered
func (o *MetricsObserver) Visits(state string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stateVisits[state]
}

// TimeIn returns the accumulated wall-clock time spent in the state
func (o *MetricsObserver) TimeIn(state string) time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stateTimeSpent[state]
}

// Fires returns how often the from->to transition fired
func (o *MetricsObserver) Fires(from, to string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fireCounts[from+"->"+to]
}

// Overflows returns how many ticks were abandoned by the cascade bound
func (o *MetricsObserver) Overflows() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.overflowCount
}

// HookErrors returns how many callback failures were isolated
func (o *MetricsObserver) HookErrors() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.hookErrorCount
}

// Reset clears every counter
func (o *MetricsObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateVisits = make(map[string]int)
	o.stateTimeSpent = make(map[string]time.Duration)
	o.fireCounts = make(map[string]int)
	o.lastEntry = make(map[string]time.Time)
	o.overflowCount = 0
	o.hookErrorCount = 0
}
