// Package scheduler runs named jobs at fixed intervals.
//
// A job never overlaps itself: ticks and manual triggers arriving while
// it runs join the in-flight run. Ticks missed while a job runs coalesce
// into a single run. Stopping the scheduler stops its tickers but lets an
// executing job finish.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotInitialized is returned by Start before Init.
	ErrNotInitialized = errors.New("scheduler not initialized")
	// ErrUnknownTask is returned by RunNow for an unregistered job name.
	ErrUnknownTask = errors.New("unknown task")
)

// State is the lifecycle state of a Scheduler.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Job is a named function run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// JobInfo describes a registered Job. NextRun is zero unless the
// scheduler is running.
type JobInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
	LastRun  time.Time     `json:"last_run"`
	Runs     int64         `json:"runs"`
	Running  bool          `json:"running"`
}

type job struct {
	Job
	nextRun time.Time
	lastRun time.Time
	runs    int64
	running bool
}

// Scheduler runs Jobs. The zero value is not usable; call New.
type Scheduler struct {
	mu     sync.Mutex
	state  State
	jobs   []*job
	byName map[string]*job
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flight singleflight.Group
}

// New returns an uninitialized Scheduler.
func New() *Scheduler {
	return &Scheduler{byName: make(map[string]*job)}
}

// Init registers jobs. Calling Init again logs a warning and has no
// effect.
func (s *Scheduler) Init(jobs ...Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		log.Warn("scheduler already initialized")
		return nil
	}
	for _, j := range jobs {
		if j.Name == "" {
			return errors.New("job has no name")
		} else if j.Interval <= 0 {
			return errors.Errorf("job %s: interval must be positive", j.Name)
		} else if j.Run == nil {
			return errors.Errorf("job %s: no run function", j.Name)
		} else if _, ok := s.byName[j.Name]; ok {
			return errors.Errorf("job %s registered twice", j.Name)
		}
		var jj = &job{Job: j}
		s.jobs = append(s.jobs, jj)
		s.byName[j.Name] = jj
	}
	s.state = StateInitialized

	log.WithField("jobs", len(s.jobs)).Info("scheduler initialized")
	return nil
}

// Start begins running jobs at their intervals. Starting a running
// Scheduler is a no-op; starting a stopped one resumes it.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateRunning:
		return nil
	}

	var ctx, cancel = context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateRunning

	var now = time.Now()
	for _, j := range s.jobs {
		j.nextRun = now.Add(j.Interval)
		log.WithFields(log.Fields{"job": j.Name, "next_run": j.nextRun.Format(time.RFC3339)}).Info("scheduled job")

		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	log.Info("scheduler started")
	return nil
}

// Stop stops the job tickers and waits until their loops exit, or until
// ctx is done. A job already executing is not interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.state = StateStopped
	for _, j := range s.jobs {
		j.nextRun = time.Time{}
	}
	s.mu.Unlock()

	var done = make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.WithMessage(ctx.Err(), "waiting for scheduler jobs")
	}
}

// RunNow runs the named job immediately, whatever the Scheduler state,
// and waits for it to finish or for ctx to be done. If the job is already
// running, RunNow waits for that run instead of starting another.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var j, ok = s.byName[name]
	s.mu.Unlock()

	if !ok {
		log.WithField("task", name).Error("unknown task")
		return errors.WithMessage(ErrUnknownTask, name)
	}
	log.WithField("task", name).Info("manually triggering task")

	select {
	case <-s.execute(ctx, j):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Jobs describes the registered jobs in registration order.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out = make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{
			Name:     j.Name,
			Interval: j.Interval,
			NextRun:  j.nextRun,
			LastRun:  j.lastRun,
			Runs:     j.runs,
			Running:  j.running,
		})
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	// Ticks missed while the job runs are dropped, and the ticker
	// restarts from the end of each run, so NextRun is the real next tick.
	var ticker = time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		<-s.execute(ctx, j)

		s.mu.Lock()
		ticker.Reset(j.Interval)
		if s.state == StateRunning {
			j.nextRun = time.Now().Add(j.Interval)
		}
		s.mu.Unlock()
	}
}

// execute runs j unless a run is already in flight, which it joins.
// The job's context is detached from ctx's cancellation.
func (s *Scheduler) execute(ctx context.Context, j *job) <-chan singleflight.Result {
	var runCtx = context.WithoutCancel(ctx)
	return s.flight.DoChan(j.Name, func() (any, error) {
		s.run(runCtx, j)
		return nil, nil
	})
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	var start = time.Now()
	s.mu.Lock()
	j.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"job": j.Name, "panic": r}).Error("job panicked")
		}
		var elapsed = time.Since(start)

		s.mu.Lock()
		j.running = false
		j.lastRun = start
		j.runs++
		s.mu.Unlock()

		runsTotal.WithLabelValues(j.Name).Inc()
		runSeconds.WithLabelValues(j.Name).Observe(elapsed.Seconds())
		log.WithFields(log.Fields{"job": j.Name, "elapsed": elapsed}).Debug("job finished")
	}()

	j.Run(ctx)
}

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "indexbridge_scheduler_runs_total",
		Help: "Cumulative number of scheduled job runs, by job.",
	}, []string{"job"})
	runSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "indexbridge_scheduler_run_seconds",
		Help:    "Duration of scheduled job runs, by job.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job"})
)

// Collectors returns the scheduler metric collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{runsTotal, runSeconds}
}
