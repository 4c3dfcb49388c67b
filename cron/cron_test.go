package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/nural/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *pipeline.Context) error { return nil }

func TestParse(t *testing.T) {
	valid := []string{"* * * * *", "*/5 * * * * *", "@hourly", "@every 1m", "0 9 * * MON-FRI"}
	for _, s := range valid {
		_, err := Parse(s, "")
		assert.NoError(t, err, s)
	}
	_, err := Parse("not a schedule", "")
	assert.Error(t, err)
	_, err = Parse("* * * * *", "Mars/Olympus")
	assert.Error(t, err)

	sched, err := Parse("0 12 * * *", "America/New_York")
	require.NoError(t, err)
	loc, _ := time.LoadLocation("America/New_York")
	next := sched.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 12, next.In(loc).Hour())
}

func TestAddJob_DuplicateSkipped(t *testing.T) {
	s := New(nil)
	defer s.Stop(context.Background())

	added, err := s.AddJob(JobConfig{Name: "cleanup", Schedule: "@hourly", Task: noop})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddJob(JobConfig{Name: "cleanup", Schedule: "@daily", Task: noop})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"cleanup"}, s.Jobs())
}

func TestAddJob_Invalid(t *testing.T) {
	s := New(nil)
	defer s.Stop(context.Background())

	_, err := s.AddJob(JobConfig{Name: "x", Schedule: "@hourly"})
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = s.AddJob(JobConfig{Name: "x", Schedule: "61 * * * *", Task: noop})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestRunOnInit_BuildsCronContext(t *testing.T) {
	s := New(nil)
	defer s.Stop(context.Background())

	got := make(chan *pipeline.Context, 1)
	_, err := s.AddJob(JobConfig{
		Name:      "warmup",
		Schedule:  "@yearly",
		RunOnInit: true,
		Task: func(_ context.Context, ec *pipeline.Context) error {
			got <- ec
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case ec := <-got:
		assert.Equal(t, pipeline.TypeCron, ec.Type())
		assert.Equal(t, "warmup", ec.HandlerName())
		assert.NotEmpty(t, ec.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on init")
	}
}

func TestScheduledRun(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	_, err := s.AddJob(JobConfig{
		Name:     "tick",
		Schedule: "* * * * * *",
		Task: func(context.Context, *pipeline.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	next, ok := s.Next("tick")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), next, 2*time.Second)

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestStopStartJob(t *testing.T) {
	s := New(nil)
	defer s.Stop(context.Background())
	_, err := s.AddJob(JobConfig{Name: "report", Schedule: "@daily", Task: noop})
	require.NoError(t, err)

	assert.True(t, s.StopJob("report"))
	_, ok := s.Next("report")
	assert.False(t, ok)

	assert.True(t, s.StartJob("report"))
	_, ok = s.Next("report")
	assert.True(t, ok)

	assert.False(t, s.StopJob("missing"))
	assert.False(t, s.StartJob("missing"))
}

func TestRunNow_ErrorsAndPanics(t *testing.T) {
	s := New(nil)
	defer s.Stop(context.Background())
	boom := errors.New("boom")
	_, _ = s.AddJob(JobConfig{Name: "fails", Schedule: "@yearly", Task: func(context.Context, *pipeline.Context) error { return boom }})
	_, _ = s.AddJob(JobConfig{Name: "panics", Schedule: "@yearly", Task: func(context.Context, *pipeline.Context) error { panic("bad") }})

	assert.ErrorIs(t, s.RunNow("fails"), boom)
	assert.ErrorContains(t, s.RunNow("panics"), "panicked")
	assert.Error(t, s.RunNow("missing"))
}

func TestStop_WaitsForRunningJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.AddJob(JobConfig{
		Name:      "slow",
		Schedule:  "@yearly",
		RunOnInit: true,
		Task: func(context.Context, *pipeline.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	close(release)

	_, err = s.AddJob(JobConfig{Name: "late", Schedule: "@hourly", Task: noop})
	assert.Error(t, err)
}

func TestStop_WaitsForRunOnInitAddedConcurrently(t *testing.T) {
	s := New(nil)
	var started, finished atomic.Int32
	task := func(context.Context, *pipeline.Context) error {
		started.Add(1)
		time.Sleep(10 * time.Millisecond)
		finished.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddJob(JobConfig{
				Name:      fmt.Sprintf("warm-%d", i),
				Schedule:  "@hourly",
				RunOnInit: true,
				Task:      task,
			})
		}()
	}
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, started.Load(), finished.Load())
	wg.Wait()
}
