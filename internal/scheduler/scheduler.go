// Package scheduler runs periodic maintenance jobs in the background.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mindsprite/mindsprite/internal/logging"
)

// Scheduler manages registered jobs, one goroutine per enabled job
type Scheduler struct {
	jobs     map[string]*Job
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
}

// Config configures the scheduler
type Config struct {
	Timezone string `mapstructure:"timezone" yaml:"timezone"` // for daily jobs (default: Local)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
	}
}

// NewScheduler creates a new scheduler. An unknown timezone falls back to Local.
func NewScheduler(cfg Config) *Scheduler {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		tz = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:     make(map[string]*Job),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
	}
}

// Job is a named unit of background work
type Job struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    JobHandler    `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	RunOnStart bool          `json:"run_on_start"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// JobHandler is the function executed for a job
type JobHandler func(ctx context.Context) error

// Schedule defines when a job runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"`
	At       string        `json:"at,omitempty"` // "HH:MM" for daily jobs
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
)

// Register adds a job, starting it right away if the scheduler is running
func (s *Scheduler) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Handler == nil {
		return fmt.Errorf("job handler is required")
	}
	if job.Schedule.Type == ScheduleInterval && job.Schedule.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.ID)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job already registered: %s", job.ID)
	}
	if job.Timeout == 0 {
		job.Timeout = 5 * time.Minute
	}

	next := s.nextRun(job.Schedule)
	if job.RunOnStart {
		next = time.Now()
	}
	job.NextRun = &next

	s.jobs[job.ID] = job
	if s.started {
		s.startJob(job)
	}
	return nil
}

// Start launches every registered job
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		s.startJob(job)
	}
	logging.WithField("jobs", len(s.jobs)).Info("scheduler started")
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Job loops take the read lock, so wait outside of it
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	logging.Info("scheduler stopped")
}

func (s *Scheduler) startJob(job *Job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.running[job.ID] = cancel

	s.wg.Add(1)
	go s.loop(jobCtx, job)
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*job.NextRun)
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	err := job.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		job.ErrorCount++
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	next := s.nextRun(job.Schedule)
	job.NextRun = &next
	s.mu.Unlock()

	if err != nil {
		logging.WithField("job", job.ID).Warn("job failed: %v", err)
	} else {
		logging.WithField("job", job.ID).Debug("job finished in %s", time.Since(now))
	}
	return err
}

func (s *Scheduler) nextRun(schedule Schedule) time.Time {
	now := time.Now().In(s.timezone)

	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)

	case ScheduleDaily:
		hour, minute := 3, 0
		fmt.Sscanf(schedule.At, "%d:%d", &hour, &minute)

		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.timezone)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next

	default:
		return now.Add(time.Hour)
	}
}

// RunNow executes a job synchronously on the caller's context
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	return s.execute(ctx, job)
}

// Jobs returns a snapshot of registered jobs ordered by ID
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool   `json:"started"`
	TotalJobs   int    `json:"total_jobs"`
	RunningJobs int    `json:"running_jobs"`
	TotalRuns   int64  `json:"total_runs"`
	TotalErrors int64  `json:"total_errors"`
	Timezone    string `json:"timezone"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		TotalJobs:   len(s.jobs),
		RunningJobs: len(s.running),
		Timezone:    s.timezone.String(),
	}
	for _, job := range s.jobs {
		stats.TotalRuns += job.RunCount
		stats.TotalErrors += job.ErrorCount
	}
	return stats
}

// IntervalJob creates a job that runs at a fixed interval
func IntervalJob(id, name string, interval time.Duration, handler JobHandler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// DailyJob creates a job that runs daily at a specific "HH:MM"
func DailyJob(id, name, at string, handler JobHandler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}
