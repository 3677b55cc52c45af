// Package engine schedules randomized bot actions. Each action gets a
// Scheduler that persists a fire instant per agent in the shared schedule
// store before arming an in-process timer, so any number of processes can
// run side by side and a restarted process resumes the instants already
// chosen. The Engine drives every Scheduler, plus auxiliary tasks such as
// pool reward settlement, on a fixed cadence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a unit of periodic work driven by the Engine.
type Task interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type funcTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

func (t funcTask) Name() string                  { return t.name }
func (t funcTask) Interval() time.Duration       { return t.interval }
func (t funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// NewTask wraps fn as a Task.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, interval: interval, fn: fn}
}

// runner guards a task against overlapping with itself.
type runner struct {
	task Task
	mu   sync.Mutex
}

// Engine runs registered tasks immediately on Start and then on their
// interval. A tick that arrives while the previous run of the same task is
// still going is skipped.
type Engine struct {
	cron    *cron.Cron
	metrics *Metrics
	log     *slog.Logger

	mu         sync.RWMutex
	runners    map[string]*runner
	schedulers map[string]*Scheduler
	started    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine.
func New(metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cron:       cron.New(),
		metrics:    metrics,
		log:        logger,
		runners:    make(map[string]*runner),
		schedulers: make(map[string]*Scheduler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a task. Schedulers are also reachable through Scheduler.
func (e *Engine) Register(t Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine: register after start")
	}
	if t.Interval() <= 0 {
		return fmt.Errorf("engine: task %s has no interval", t.Name())
	}
	if _, dup := e.runners[t.Name()]; dup {
		return fmt.Errorf("engine: task %s registered twice", t.Name())
	}
	e.runners[t.Name()] = &runner{task: t}
	if s, ok := t.(*Scheduler); ok {
		e.schedulers[s.Name()] = s
	}
	return nil
}

// Start runs every task once and hands the rest to the cron driver.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine: already started")
	}
	for _, r := range e.runners {
		spec := "@every " + r.task.Interval().String()
		if _, err := e.cron.AddFunc(spec, func() { e.run(r) }); err != nil {
			return fmt.Errorf("engine: schedule %s: %w", r.task.Name(), err)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(r)
		}()
	}
	e.cron.Start()
	e.started = true
	e.log.Info("engine: started", slog.Int("tasks", len(e.runners)))
	return nil
}

// Trigger runs the named task now, outside its cadence. It honors the same
// overlap guard as scheduled runs.
func (e *Engine) Trigger(ctx context.Context, name string) error {
	e.mu.RLock()
	r, ok := e.runners[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if !r.mu.TryLock() {
		return ErrSweepInProgress
	}
	defer r.mu.Unlock()
	return r.task.Run(ctx)
}

func (e *Engine) run(r *runner) {
	name := r.task.Name()
	if !r.mu.TryLock() {
		if e.metrics != nil {
			e.metrics.tasksSkipped.WithLabelValues(name).Inc()
		}
		e.log.Debug("engine: tick skipped, task still running", slog.String("task", name))
		return
	}
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("engine: task panic", slog.String("task", name), slog.Any("panic", rec))
		}
	}()
	if e.ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := r.task.Run(e.ctx)
	status := "ok"
	if err != nil && !errors.Is(err, ErrSweepInProgress) {
		status = "error"
		e.log.Error("engine: task failed", slog.String("task", name), slog.String("error", err.Error()))
	}
	if e.metrics != nil {
		e.metrics.taskDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	}
}

// Scheduler returns the scheduler registered for action.
func (e *Engine) Scheduler(action string) (*Scheduler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.schedulers[action]
	return s, ok
}

// Statuses reports every scheduler, sorted by action name.
func (e *Engine) Statuses() []Status {
	e.mu.RLock()
	out := make([]Status, 0, len(e.schedulers))
	for _, s := range e.schedulers {
		out = append(out, s.Status())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Stop halts the cron driver, waits for running tasks until ctx expires, and
// stops every scheduler's timers.
func (e *Engine) Stop(ctx context.Context) error {
	cronDone := e.cron.Stop()
	e.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("engine: stop: %w", ctx.Err())
	}

	e.mu.RLock()
	for _, s := range e.schedulers {
		s.Stop()
	}
	e.mu.RUnlock()
	e.log.Info("engine: stopped")
	return err
}
