// cron/cron.go
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/pipeline"
	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is the body of a scheduled job. ec is a cron-typed execution
// context whose handler name is the job name.
type Task func(ctx context.Context, ec *pipeline.Context) error

// JobConfig describes one scheduled job.
type JobConfig struct {
	// Name must be unique within a Service.
	Name string
	// Schedule is a 5-field cron expression, a 6-field expression with
	// leading seconds, or a descriptor such as "@hourly" or "@every 1m".
	Schedule string
	Task     Task
	// RunOnInit runs the task once, asynchronously, at registration.
	RunOnInit bool
	// TimeZone is an IANA zone name. Empty means the service's location.
	TimeZone string
}

// ErrInvalidJob is returned for configs without a name, schedule or task.
var ErrInvalidJob = errors.New("cron: invalid job")

var parser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

type job struct {
	cfg     JobConfig
	sched   robfig.Schedule
	entry   robfig.EntryID
	running bool
}

// Service runs named cron jobs.
type Service struct {
	mu      sync.Mutex
	c       *robfig.Cron
	jobs    map[string]*job
	logger  *zap.Logger
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	loc *time.Location
}

// WithLocation sets the default time zone for jobs without one.
func WithLocation(loc *time.Location) Option {
	return func(o *serviceOptions) { o.loc = loc }
}

// New returns a started Service. Jobs fire as soon as they are added.
func New(logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := serviceOptions{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		c:      robfig.New(robfig.WithParser(parser), robfig.WithLocation(o.loc)),
		jobs:   make(map[string]*job),
		logger: logger.Named("cron"),
		base:   base,
		cancel: cancel,
	}
	s.c.Start()
	return s
}

// Parse validates a schedule, with an optional time zone, without
// registering anything.
func Parse(schedule, timeZone string) (robfig.Schedule, error) {
	spec := strings.TrimSpace(schedule)
	if timeZone != "" {
		if _, err := time.LoadLocation(timeZone); err != nil {
			return nil, fmt.Errorf("cron: time zone %q: %w", timeZone, err)
		}
		spec = "CRON_TZ=" + timeZone + " " + spec
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron: schedule %q: %w", schedule, err)
	}
	return sched, nil
}

// AddJob registers and starts cfg. A name that is already registered is
// skipped with a warning and reports false with no error.
func (s *Service) AddJob(cfg JobConfig) (bool, error) {
	if cfg.Name == "" || cfg.Schedule == "" || cfg.Task == nil {
		return false, fmt.Errorf("%w: name, schedule and task are required", ErrInvalidJob)
	}
	sched, err := Parse(cfg.Schedule, cfg.TimeZone)
	if err != nil {
		s.logger.Error("failed to create cron job", zap.String("job", cfg.Name), zap.Error(err))
		return false, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, errors.New("cron: service stopped")
	}
	if _, exists := s.jobs[cfg.Name]; exists {
		s.mu.Unlock()
		s.logger.Warn("cron job already exists; skipping", zap.String("job", cfg.Name))
		return false, nil
	}
	j := &job{cfg: cfg, sched: sched}
	s.jobs[cfg.Name] = j
	s.scheduleLocked(j)
	// Counted under the lock so a concurrent Stop either sees the job or
	// rejected the registration above.
	if cfg.RunOnInit {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.logger.Info("registered job", zap.String("job", cfg.Name), zap.String("schedule", cfg.Schedule))

	if cfg.RunOnInit {
		s.logger.Info("running job on init", zap.String("job", cfg.Name))
		go func() {
			defer s.wg.Done()
			s.execute(cfg)
		}()
	}
	return true, nil
}

func (s *Service) scheduleLocked(j *job) {
	cfg := j.cfg
	j.entry = s.c.Schedule(j.sched, robfig.FuncJob(func() { s.execute(cfg) }))
	j.running = true
}

// StopJob pauses a job. It reports false for unknown names.
func (s *Service) StopJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		s.logger.Warn("job not found", zap.String("job", name))
		return false
	}
	if j.running {
		s.c.Remove(j.entry)
		j.running = false
		s.logger.Info("stopped job", zap.String("job", name))
	}
	return true
}

// StartJob resumes a job paused with StopJob.
func (s *Service) StartJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		s.logger.Warn("job not found", zap.String("job", name))
		return false
	}
	if !j.running && !s.stopped {
		s.scheduleLocked(j)
		s.logger.Info("started job", zap.String("job", name))
	}
	return true
}

// Jobs lists registered job names, sorted.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Next reports when name fires next. ok is false for unknown or paused jobs.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	running := ok && j.running
	var id robfig.EntryID
	if running {
		id = j.entry
	}
	s.mu.Unlock()
	if !running {
		return time.Time{}, false
	}
	e := s.c.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

// RunNow executes name synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron: job %q not found", name)
	}
	return s.execute(j.cfg)
}

func (s *Service) execute(cfg JobConfig) (err error) {
	ctx := s.base
	ec := pipeline.NewCronContext(cfg.Name,
		pipeline.WithContext(ctx),
		pipeline.WithMetadata(map[string]any{"schedule": cfg.Schedule}),
	)
	log := s.logger.With(zap.String("job", cfg.Name), zap.String("execution_id", ec.ID()))
	log.Info("executing job", zap.String("schedule", cfg.Schedule))

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cron: job %q panicked: %v", cfg.Name, rec)
		}
		metrics.CronRun(cfg.Name, err)
		if err != nil {
			log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		log.Info("job completed", zap.Duration("duration", time.Since(start)))
	}()
	return cfg.Task(ctx, ec)
}

// Stop halts scheduling and waits for running jobs, or for ctx to end.
// Running jobs see their context canceled only when ctx ends first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	n := len(s.jobs)
	s.mu.Unlock()

	cronDone := s.c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("stopped all cron jobs", zap.Int("count", n))
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("cron shutdown timed out")
		return ctx.Err()
	}
}
