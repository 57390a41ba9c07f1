// Package scheduler runs background jobs such as the periodic lifecycle sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse/internal/logging"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskBusy     = errors.New("task already running")
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks    map[string]*Task
	loops    map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	now      func() time.Time
	log      *logging.Logger
}

// Config configures the scheduler
type Config struct {
	Timezone string // Timezone for daily schedules (default: Local)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
	}
}

// New creates a new scheduler. An unknown timezone falls back to Local.
func New(cfg Config) *Scheduler {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		tz = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:    make(map[string]*Task),
		loops:    make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		now:      time.Now,
		log:      logging.WithField("component", "scheduler"),
	}
}

// Task represents a scheduled task
type Task struct {
	ID         string
	Name       string
	Schedule   Schedule
	Handler    TaskHandler
	Timeout    time.Duration
	RunOnStart bool

	lastRun      *time.Time
	nextRun      *time.Time
	runCount     int64
	errorCount   int64
	skipCount    int64
	lastError    string
	lastDuration time.Duration
	busy         bool
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"` // For interval schedules
	At       string        `json:"at,omitempty"`       // For daily schedules (e.g., "03:30")
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // Run every X duration
	ScheduleDaily    ScheduleType = "daily"    // Run at specific time daily
)

func (sc Schedule) validate() error {
	switch sc.Type {
	case ScheduleInterval:
		if sc.Interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", sc.Interval)
		}
	case ScheduleDaily:
		if _, err := time.Parse("15:04", sc.At); err != nil {
			return fmt.Errorf("daily time %q must be HH:MM", sc.At)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", sc.Type)
	}
	return nil
}

// next returns the first run time strictly after from.
func (sc Schedule) next(from time.Time, tz *time.Location) time.Time {
	if sc.Type == ScheduleDaily {
		at, _ := time.Parse("15:04", sc.At)
		local := from.In(tz)
		next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, tz)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	return from.Add(sc.Interval)
}

// Register adds a task to the scheduler
func (s *Scheduler) Register(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if err := task.Schedule.validate(); err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already registered", task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = 5 * time.Minute
	}

	nextRun := task.Schedule.next(s.now(), s.timezone)
	if task.RunOnStart {
		nextRun = s.now()
	}
	task.nextRun = &nextRun

	s.tasks[task.ID] = task

	if s.started {
		s.startTask(task)
	}

	return nil
}

// Unregister removes a task from the scheduler
func (s *Scheduler) Unregister(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if cancel, ok := s.loops[taskID]; ok {
		cancel()
		delete(s.loops, taskID)
	}

	delete(s.tasks, taskID)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.started = true
	for _, task := range s.tasks {
		s.startTask(task)
	}

	s.log.Info("Scheduler started with %d task(s)", len(s.tasks))
	return nil
}

// Stop cancels every task loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	s.loops = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Running handlers take the lock to record results
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.log.Info("Scheduler stopped")
	return nil
}

// startTask starts a single task's loop. Caller holds s.mu.
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.loops[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := task.nextRun.Sub(s.now())
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
			if err := s.executeTask(ctx, task); err != nil && !errors.Is(err, ErrTaskBusy) {
				s.log.WithField("task", task.ID).Warn("Task failed: %v", err)
			}
		}
	}
}

// executeTask runs the handler once. Overlapping runs of one task are skipped.
func (s *Scheduler) executeTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	if task.busy {
		task.skipCount++
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskBusy, task.ID)
	}
	task.busy = true
	started := s.now()
	task.lastRun = &started
	task.runCount++
	timeout := task.Timeout
	s.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := task.Handler(execCtx)

	s.mu.Lock()
	defer s.mu.Unlock()

	task.busy = false
	task.lastDuration = s.now().Sub(started)
	if err != nil {
		task.errorCount++
		task.lastError = err.Error()
	} else {
		task.lastError = ""
	}

	nextRun := task.Schedule.next(s.now(), s.timezone)
	task.nextRun = &nextRun

	return err
}

// RunNow executes a task immediately and returns the handler's error.
// It returns ErrTaskBusy if the task is already running.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return s.executeTask(ctx, task)
}

// TaskInfo is a point-in-time snapshot of a task's state.
type TaskInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Schedule     Schedule      `json:"schedule"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	SkipCount    int64         `json:"skip_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	Running      bool          `json:"running"`
}

func (t *Task) info() TaskInfo {
	return TaskInfo{
		ID:           t.ID,
		Name:         t.Name,
		Schedule:     t.Schedule,
		LastRun:      copyTime(t.lastRun),
		NextRun:      copyTime(t.nextRun),
		RunCount:     t.runCount,
		ErrorCount:   t.errorCount,
		SkipCount:    t.skipCount,
		LastError:    t.lastError,
		LastDuration: t.lastDuration,
		Running:      t.busy,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// GetTask returns a snapshot of a task by ID
func (s *Scheduler) GetTask(taskID string) (TaskInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return task.info(), true
}

// ListTasks returns snapshots of all tasks
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.info())
	}
	return tasks
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:    s.started,
		TotalTasks: len(s.tasks),
		Timezone:   s.timezone.String(),
	}

	for _, task := range s.tasks {
		if task.busy {
			stats.RunningTasks++
		}
		stats.TotalRuns += task.runCount
		stats.TotalErrors += task.errorCount
		stats.TotalSkips += task.skipCount
	}

	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool   `json:"started"`
	TotalTasks   int    `json:"total_tasks"`
	RunningTasks int    `json:"running_tasks"`
	TotalRuns    int64  `json:"total_runs"`
	TotalErrors  int64  `json:"total_errors"`
	TotalSkips   int64  `json:"total_skips"`
	Timezone     string `json:"timezone"`
}

// IntervalTask creates a task that runs at a fixed interval
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// DailyTask creates a task that runs daily at a specific time
func DailyTask(id, name, at string, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}
