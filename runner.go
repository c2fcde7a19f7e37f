package motus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner drives a machine at a fixed tick rate on its own goroutine, for
// hosts without a game loop of their own. Messages sent through the runner
// are queued and dispatched at the start of the next tick, keeping all
// machine activity on the tick goroutine.
type Runner struct {
	machine  *StateMachine
	tickRate time.Duration
	capacity int
	logger   *slog.Logger

	mu    sync.Mutex
	queue []string
	ticks uint64

	ticker  *time.Ticker
	cancel  context.CancelFunc
	stopped chan struct{}
}

// RunnerOption configures a runner at construction time
type RunnerOption func(*Runner)

// WithTickRate sets the fixed interval between ticks
func WithTickRate(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tickRate = d
		}
	}
}

// WithQueueCapacity sets how many messages may wait for the next tick
func WithQueueCapacity(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithRunnerLogger sets the runner's structured logger
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner for the machine. The default tick rate is
// 60 per second with room for 256 queued messages.
func NewRunner(m *StateMachine, opts ...RunnerOption) *Runner {
	r := &Runner{
		machine:  m,
		tickRate: 16667 * time.Microsecond,
		capacity: 256,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Machine returns the driven machine
func (r *Runner) Machine() *StateMachine {
	return r.machine
}

// Start begins tick-based execution, starting the machine first if needed.
// The loop runs until Stop is called or ctx is canceled.
func (r *Runner) Start(ctx context.Context) error {
	if r.cancel != nil {
		return NewAlreadyStartedError("runner start")
	}
	if !r.machine.Started() {
		if err := r.machine.Start(); err != nil {
			return err
		}
	}
	tickCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.ticker = time.NewTicker(r.tickRate)
	r.stopped = make(chan struct{})
	go r.loop(tickCtx)
	return nil
}

// Stop halts the tick loop and waits for it to exit. The machine itself
// stays started.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.ticker.Stop()
	<-r.stopped
	r.cancel = nil
	r.ticker = nil
}

// SendMessage queues msg for dispatch at the start of the next tick
func (r *Runner) SendMessage(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= r.capacity {
		return NewMachineError(ErrCodeQueueFull, "send message", "message queue full")
	}
	r.queue = append(r.queue, msg)
	return nil
}

// TickCount returns how many ticks the runner has executed
func (r *Runner) TickCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.stopped)
	dt := r.tickRate.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ticker.C:
			r.step(dt)
		}
	}
}

// step dispatches the queued messages, then ticks. Machine callbacks are
// already panic-isolated; the recovery here keeps the loop alive through
// anything else.
func (r *Runner) step(dt float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick panic", "machine", r.machine.ID(), "panic", rec)
		}
	}()
	for _, msg := range r.drain() {
		r.machine.SendMessage(msg)
	}
	r.machine.Tick(dt)
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func (r *Runner) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.queue
	r.queue = make([]string, 0, cap(r.queue))
	return msgs
}
