package lifecycle

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

func newExitRecorder() *exitRecorder { return &exitRecorder{ch: make(chan int, 4)} }

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
	e.ch <- code
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

type fakeServer struct {
	order    *[]string
	shutdown error
	conns    int
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	*f.order = append(*f.order, "server:drain")
	return f.shutdown
}

func (f *fakeServer) CloseConnections() int {
	*f.order = append(*f.order, "server:close")
	return f.conns
}

type stopFunc func(ctx context.Context) error

func (s stopFunc) Stop(ctx context.Context) error { return s(ctx) }

func TestShutdown_Order(t *testing.T) {
	var order []string
	ex := newExitRecorder()
	m := NewShutdownManager(ShutdownOptions{Exit: ex.exit, FlushDelay: -1})

	c := NewContainer(nil)
	_, err := c.Register(context.Background(), Define(ProviderConfig[int]{
		Name:     "db",
		Setup:    func(context.Context) (int, error) { return 1, nil },
		Teardown: func(context.Context, int) error { order = append(order, "provider:db"); return nil },
	}))
	require.NoError(t, err)

	m.OnShutdown("first", func(context.Context) error { order = append(order, "hook:first"); return nil })
	m.OnShutdown("second", func(context.Context) error { order = append(order, "hook:second"); return nil })

	ok := m.Execute(context.Background(), Targets{
		Schedulers: []Stopper{stopFunc(func(context.Context) error { order = append(order, "cron"); return nil })},
		Sockets:    []Stopper{stopFunc(func(context.Context) error { order = append(order, "ws"); return nil })},
		Server:     &fakeServer{order: &order, conns: 2},
		Providers:  c,
	})
	require.True(t, ok)

	assert.Equal(t, []string{
		"cron", "ws", "server:drain", "server:close", "provider:db", "hook:second", "hook:first",
	}, order)
	assert.Equal(t, []int{0}, ex.Codes())
	assert.Equal(t, StateTerminated, m.State())

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestShutdown_SecondExecuteIsNoop(t *testing.T) {
	ex := newExitRecorder()
	m := NewShutdownManager(ShutdownOptions{Exit: ex.exit, FlushDelay: -1})
	var runs atomic.Int32
	m.OnShutdown("count", func(context.Context) error { runs.Add(1); return nil })

	assert.True(t, m.Execute(context.Background(), Targets{}))
	assert.False(t, m.Execute(context.Background(), Targets{}))
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, []int{0}, ex.Codes())
}

func TestShutdown_CauseExitsNonZero(t *testing.T) {
	ex := newExitRecorder()
	m := NewShutdownManager(ShutdownOptions{Exit: ex.exit, FlushDelay: -1})
	ran := false
	m.OnShutdown("flush", func(context.Context) error { ran = true; return nil })

	assert.True(t, m.Execute(context.Background(), Targets{Cause: errors.New("listener died")}))
	assert.True(t, ran)
	assert.Equal(t, []int{1}, ex.Codes())
	assert.Equal(t, StateTerminated, m.State())
}

func TestShutdown_FailingHookDoesNotStopOthers(t *testing.T) {
	ex := newExitRecorder()
	m := NewShutdownManager(ShutdownOptions{Exit: ex.exit, FlushDelay: -1})
	var ran []string
	m.OnShutdown("a", func(context.Context) error { ran = append(ran, "a"); return nil })
	m.OnShutdown("b", func(context.Context) error { panic("b exploded") })
	m.OnShutdown("c", func(context.Context) error { ran = append(ran, "c"); return assert.AnError })

	m.Execute(context.Background(), Targets{})
	assert.Equal(t, []string{"c", "a"}, ran)
	assert.Equal(t, []int{0}, ex.Codes())
}

func TestShutdown_TimeoutForcesExit(t *testing.T) {
	ex := newExitRecorder()
	m := NewShutdownManager(ShutdownOptions{
		Exit:       ex.exit,
		Timeout:    50 * time.Millisecond,
		FlushDelay: -1,
	})
	release := make(chan struct{})
	m.OnShutdown("stuck", func(context.Context) error { <-release; return nil })

	go m.Execute(context.Background(), Targets{})

	select {
	case code := <-ex.ch:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("kill timer did not fire")
	}
	close(release)
	<-m.Done()
	// exit runs once even though the sequence eventually finished
	assert.Equal(t, []int{1}, ex.Codes())
}

func TestShutdown_HandleSignals(t *testing.T) {
	m := NewShutdownManager(ShutdownOptions{Exit: func(int) {}, FlushDelay: -1})
	var registered chan<- os.Signal
	var sigs []os.Signal
	m.notify = func(c chan<- os.Signal, s ...os.Signal) { registered, sigs = c, s }
	m.stopSigs = func(chan<- os.Signal) {}

	got := make(chan os.Signal, 2)
	stop := m.HandleSignals(func(sig os.Signal) { got <- sig })
	defer stop()

	assert.ElementsMatch(t, []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT}, sigs)

	registered <- syscall.SIGTERM
	select {
	case sig := <-got:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(time.Second):
		t.Fatal("trigger not called")
	}

	m.state.Store(int32(StateShuttingDown))
	registered <- os.Interrupt
	select {
	case sig := <-got:
		t.Fatalf("trigger called during shutdown with %v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}
