// lifecycle/shutdown.go
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// State is the shutdown manager's position in Running -> ShuttingDown ->
// Terminated.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Hook is a cleanup callback run during shutdown.
type Hook func(ctx context.Context) error

// Stopper is something that must stop taking new work before the HTTP
// listener closes: schedulers and socket servers.
type Stopper interface {
	Stop(ctx context.Context) error
}

// HTTPServer is the listener handle shutdown drains.
type HTTPServer interface {
	Shutdown(ctx context.Context) error
	CloseConnections() int
}

// Targets names what a shutdown tears down. Nil fields are skipped.
type Targets struct {
	Schedulers []Stopper
	Sockets    []Stopper
	Server     HTTPServer
	Providers  *Container
	// Cause, when set, is the failure that triggered shutdown. The
	// sequence runs as usual and the process exits 1.
	Cause error
}

// ShutdownOptions tune the shutdown sequence.
type ShutdownOptions struct {
	// Timeout bounds the whole sequence. When it passes the process exits
	// with status 1. Default 10s.
	Timeout time.Duration
	// DrainTimeout bounds how long the HTTP server waits for active
	// requests before the remaining connections are destroyed. Default 5s.
	DrainTimeout time.Duration
	// FlushDelay is slept before the final exit. Default 100ms.
	FlushDelay time.Duration
	// Exit ends the process. Default os.Exit.
	Exit   func(code int)
	Logger *zap.Logger
}

type namedHook struct {
	name string
	fn   Hook
}

// ShutdownManager runs the graceful shutdown sequence exactly once.
type ShutdownManager struct {
	opts   ShutdownOptions
	logger *zap.Logger

	state    atomic.Int32
	mu       sync.Mutex
	hooks    []namedHook
	done     chan struct{}
	exitOnce sync.Once
	notify   func(c chan<- os.Signal, sig ...os.Signal)
	stopSigs func(c chan<- os.Signal)
}

// NewShutdownManager returns a manager in StateRunning.
func NewShutdownManager(opts ShutdownOptions) *ShutdownManager {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.FlushDelay < 0 {
		opts.FlushDelay = 0
	} else if opts.FlushDelay == 0 {
		opts.FlushDelay = 100 * time.Millisecond
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ShutdownManager{
		opts:     opts,
		logger:   opts.Logger,
		done:     make(chan struct{}),
		notify:   signal.Notify,
		stopSigs: signal.Stop,
	}
}

// State reports the current state.
func (m *ShutdownManager) State() State { return State(m.state.Load()) }

// Done is closed once the sequence has finished.
func (m *ShutdownManager) Done() <-chan struct{} { return m.done }

// OnShutdown registers a hook. Hooks run last-registered first.
func (m *ShutdownManager) OnShutdown(name string, fn Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, fn: fn})
}

// Execute runs the shutdown sequence. It returns false without doing
// anything when a shutdown already started.
//
// Order: stop schedulers and sockets, drain the HTTP server and destroy
// leftover connections, destroy providers, run hooks in reverse
// registration order, then exit 0 after FlushDelay (1 when t.Cause is
// set). A failing step is logged and the sequence continues. If the sequence outlives Timeout the
// process exits 1.
func (m *ShutdownManager) Execute(ctx context.Context, t Targets) bool {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		m.logger.Debug("shutdown already in progress")
		return false
	}
	code := 0
	if t.Cause != nil {
		code = 1
		m.logger.Error("shutting down after failure", zap.Error(t.Cause))
	}
	m.logger.Warn("shutting down gracefully", zap.Duration("timeout", m.opts.Timeout))

	killTimer := time.AfterFunc(m.opts.Timeout, func() {
		m.logger.Error("shutdown timed out; forcing exit", zap.Duration("timeout", m.opts.Timeout))
		_ = m.logger.Sync()
		m.exit(1)
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
	defer cancel()

	for _, s := range t.Schedulers {
		m.step(ctx, "stop scheduler", s.Stop)
	}
	for _, s := range t.Sockets {
		m.step(ctx, "close socket server", s.Stop)
	}

	if t.Server != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, m.opts.DrainTimeout)
		if err := t.Server.Shutdown(drainCtx); err != nil {
			m.logger.Warn("http drain incomplete", zap.Error(err))
		}
		drainCancel()
		n := t.Server.CloseConnections()
		m.logger.Warn("http server closed", zap.Int("connections_destroyed", n))
	}

	if t.Providers != nil {
		m.step(ctx, "destroy providers", t.Providers.DestroyAll)
	}

	m.mu.Lock()
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info("running shutdown hooks", zap.Int("count", len(hooks)))
	for i := len(hooks) - 1; i >= 0; i-- {
		m.step(ctx, "hook "+hooks[i].name, hooks[i].fn)
	}

	killTimer.Stop()
	m.state.Store(int32(StateTerminated))
	close(m.done)

	time.Sleep(m.opts.FlushDelay)
	m.exit(code)
	return true
}

func (m *ShutdownManager) step(ctx context.Context, what string, fn func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("shutdown step panicked", zap.String("step", what), zap.Any("panic", rec))
		}
	}()
	if err := fn(ctx); err != nil {
		m.logger.Error("shutdown step failed", zap.String("step", what), zap.Error(err))
	}
}

func (m *ShutdownManager) exit(code int) {
	m.exitOnce.Do(func() { m.opts.Exit(code) })
}

// HandleSignals calls trigger on the first SIGINT, SIGTERM or SIGQUIT.
// Signals arriving once shutdown started are logged and ignored. The
// returned func stops signal delivery.
func (m *ShutdownManager) HandleSignals(trigger func(sig os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 1)
	m.notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if m.State() != StateRunning {
					m.logger.Warn("signal ignored; shutdown in progress", zap.Stringer("signal", sig))
					continue
				}
				m.logger.Warn("signal received", zap.Stringer("signal", sig))
				go trigger(sig)
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.stopSigs(ch)
			close(quit)
		})
	}
}
