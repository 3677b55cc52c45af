package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
)

// Errors returned by the scheduler.
var (
	ErrSweepInProgress = errors.New("engine: sweep already running")
	ErrUnknownAction   = errors.New("engine: unknown action")
)

const (
	entryTTL = 24 * time.Hour
	setTTL   = 48 * time.Hour
)

// AgentLoader loads the current state of an agent right before execution.
type AgentLoader interface {
	Get(ctx context.Context, id string) (agent.Agent, error)
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run after d. It must not call f synchronously.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Deps are the collaborators shared by every Scheduler. Optional fields fall
// back to production defaults.
type Deps struct {
	Store       schedule.Store
	Keys        schedule.Keys
	Agents      AgentLoader
	Executor    executor.Executor
	Location    *time.Location
	MinDelay    time.Duration
	Concurrency int
	Metrics     *Metrics
	Logger      *slog.Logger

	Clock     func() time.Time
	AfterFunc AfterFunc
	Rand      *rand.Rand
}

// armed is one in-process timer.
type armed struct {
	job    Job
	day    string
	fireAt time.Time
	timer  Timer
}

// Status is a point-in-time view of a scheduler for operators.
type Status struct {
	Action        string    `json:"action"`
	Family        string    `json:"family"`
	Interval      string    `json:"interval"`
	Armed         int       `json:"armed"`
	LastSweep     time.Time `json:"last_sweep,omitempty"`
	LastDuration  string    `json:"last_duration,omitempty"`
	LastJobs      int       `json:"last_jobs"`
	LastFailures  int       `json:"last_failures"`
	LastError     string    `json:"last_error,omitempty"`
	SweepsRunning bool      `json:"sweep_running"`
}

// Scheduler turns the jobs of one action into persisted fire instants and
// in-process timers, and executes them when the timers fire.
//
// A job moves through Idle → Scheduled (entry persisted) → Armed (timer set)
// → Executing (exec lock held) → Completed. Agents failing the eligibility
// re-check end up Ineligible for the day.
type Scheduler struct {
	action   Action
	store    schedule.Store
	keys     schedule.Keys
	agents   AgentLoader
	exec     executor.Executor
	loc      *time.Location
	minDelay time.Duration
	workers  int
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
	after    AfterFunc

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	sweeping sync.Mutex
	running  atomic.Bool

	mu     sync.Mutex
	timers map[string]*armed
	status Status
}

// NewScheduler creates a scheduler for action.
func NewScheduler(action Action, deps Deps) *Scheduler {
	action.setDefaults()
	s := &Scheduler{
		action:   action,
		store:    deps.Store,
		keys:     deps.Keys,
		agents:   deps.Agents,
		exec:     deps.Executor,
		loc:      deps.Location,
		minDelay: deps.MinDelay,
		workers:  deps.Concurrency,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      deps.Clock,
		after:    deps.AfterFunc,
		rng:      deps.Rand,
		timers:   make(map[string]*armed),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.minDelay <= 0 {
		s.minDelay = time.Second
	}
	if s.workers <= 0 {
		s.workers = 16
	}
	if s.metrics == nil {
		s.metrics = NewMetrics("", prometheus.NewRegistry())
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.after == nil {
		s.after = realAfterFunc
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xa11ce))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.log.With(slog.String("action", action.Name))
	s.status = Status{Action: action.Name, Family: action.Family.String(), Interval: action.Interval.String()}
	return s
}

// Name implements Task.
func (s *Scheduler) Name() string { return s.action.Name }

// Interval implements Task.
func (s *Scheduler) Interval() time.Duration { return s.action.Interval }

// Run implements Task.
func (s *Scheduler) Run(ctx context.Context) error { return s.Sweep(ctx) }

// Sweep asks the action's source for jobs and schedules each of them. It
// never overlaps with itself: a sweep started while another is running
// returns ErrSweepInProgress at once.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if !s.sweeping.TryLock() {
		s.log.Debug("engine: sweep skipped, previous sweep still running")
		return ErrSweepInProgress
	}
	defer s.sweeping.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	start := s.now()
	jobs, err := s.action.Source.Jobs(ctx, start)
	if err != nil {
		s.recordSweep(start, 0, 0, err)
		return fmt.Errorf("engine: %s jobs: %w", s.action.Name, err)
	}

	var failures atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.Schedule(ctx, job); err != nil {
				failures.Add(1)
				s.log.Warn("engine: schedule failed",
					slog.String("agent_id", job.Agent.ID),
					slog.String("target", job.Target),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.recordSweep(start, len(jobs), int(failures.Load()), nil)
	return nil
}

func (s *Scheduler) recordSweep(start time.Time, jobs, failures int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSweep = start
	s.status.LastDuration = s.now().Sub(start).String()
	s.status.LastJobs = jobs
	s.status.LastFailures = failures
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}

// Schedule makes sure job has a persisted fire instant and an armed timer.
// A persisted instant is always reused, never resampled, so a restarted
// process fires at the instant the previous one chose.
func (s *Scheduler) Schedule(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: schedule panic: %v", r)
		}
	}()

	now := s.now()
	day := schedule.Day(now, s.loc)
	if s.isArmed(job.key()) {
		return nil
	}
	if s.action.dated() {
		done, err := s.isDone(ctx, job.Agent.ID, day)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	lockKey := s.keys.Lock(job.Agent.ID, s.action.Name, job.Target)
	token, ok, err := s.store.TryLock(ctx, lockKey, s.action.ScheduleLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.lockContention.WithLabelValues(s.action.Name, "schedule").Inc()
		s.log.Debug("engine: schedule lock held elsewhere", slog.String("agent_id", job.Agent.ID))
		return nil
	}
	defer s.unlock(lockKey, token)

	entryKey := s.entryKey(job, day)
	fireAt, found, err := schedule.GetTimestamp(ctx, s.store, entryKey)
	if err != nil {
		return err
	}
	origin := "recovered"
	if !found {
		fireAt, ok = s.first(now, job)
		if !ok {
			return nil
		}
		fireAt = fireAt.Truncate(time.Millisecond)
		if err := schedule.SetTimestamp(ctx, s.store, entryKey, fireAt, s.entryTTL(now, fireAt)); err != nil {
			return err
		}
		origin = "planned"
	} else if s.action.dated() && schedule.Day(fireAt, s.loc) != day {
		// The job's next run fell past the end of the day; it rests until
		// tomorrow's entry is planned.
		return nil
	}

	s.arm(job, day, fireAt, now)
	s.metrics.scheduled.WithLabelValues(s.action.Name, origin).Inc()
	s.log.Debug("engine: job armed",
		slog.String("agent_id", job.Agent.ID),
		slog.String("target", job.Target),
		slog.String("origin", origin),
		slog.Time("fire_at", fireAt),
	)
	return nil
}

func (s *Scheduler) first(now time.Time, job Job) (time.Time, bool) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.action.Planner.First(now, job, s.rng)
}

func (s *Scheduler) next(r Repeater, job Job) time.Time {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return r.Next(s.now(), job, s.rng)
}

func (s *Scheduler) entryKey(job Job, day string) string {
	if !s.action.dated() {
		day = ""
	}
	return s.keys.Entry(job.Agent.ID, s.action.Name, job.Target, day)
}

func (s *Scheduler) entryTTL(now, fireAt time.Time) time.Duration {
	return max(entryTTL, fireAt.Sub(now)+time.Hour)
}

func (s *Scheduler) isDone(ctx context.Context, agentID, day string) (bool, error) {
	done, err := s.store.SIsMember(ctx, s.keys.Completed(s.action.Name, day), agentID)
	if err != nil || done {
		return done, err
	}
	return s.store.SIsMember(ctx, s.keys.Exhausted(s.action.Name, day), agentID)
}

func (s *Scheduler) isArmed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// arm sets an in-process timer, replacing any timer of the same job.
func (s *Scheduler) arm(job Job, day string, fireAt, now time.Time) {
	delay := fireAt.Sub(now)
	if delay < s.minDelay {
		delay = s.minDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.timers[job.key()]; ok {
		old.timer.Stop()
	}
	a := &armed{job: job, day: day, fireAt: fireAt}
	a.timer = s.after(delay, func() { s.fire(a) })
	s.timers[job.key()] = a
	s.metrics.armed.WithLabelValues(s.action.Name).Set(float64(len(s.timers)))
}

func (s *Scheduler) disarm(a *armed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[a.job.key()]; ok && cur == a {
		delete(s.timers, a.job.key())
	}
	s.metrics.armed.WithLabelValues(s.action.Name).Set(float64(len(s.timers)))
}

func (s *Scheduler) unlock(key, token string) {
	// The lock may have expired during a slow execution; that is not fatal.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Unlock(ctx, key, token); err != nil && !errors.Is(err, schedule.ErrNotLockOwner) {
		s.log.Warn("engine: unlock failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// fire runs when a timer elapses.
func (s *Scheduler) fire(a *armed) {
	defer s.disarm(a)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("engine: fire panic",
				slog.String("agent_id", a.job.Agent.ID),
				slog.Any("panic", r),
			)
		}
	}()
	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.action.ExecLockTTL)
	defer cancel()

	job := a.job
	lockKey := s.keys.Lock(job.Agent.ID, s.action.Name, job.Target)
	token, ok, err := s.store.TryLock(ctx, lockKey, s.action.ExecLockTTL)
	if err != nil {
		s.log.Error("engine: exec lock failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		return
	}
	if !ok {
		s.metrics.lockContention.WithLabelValues(s.action.Name, "execute").Inc()
		s.log.Debug("engine: exec lock held elsewhere", slog.String("agent_id", job.Agent.ID))
		return
	}
	defer s.unlock(lockKey, token)

	// Another process may have executed this entry already.
	entryKey := s.entryKey(job, a.day)
	cur, found, err := schedule.GetTimestamp(ctx, s.store, entryKey)
	if err != nil {
		s.log.Error("engine: read entry failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		return
	}
	if !found || cur.UnixMilli() != a.fireAt.UnixMilli() {
		s.metrics.executions.WithLabelValues(s.action.Name, resultStale).Inc()
		return
	}
	if s.action.dated() {
		done, err := s.isDone(ctx, job.Agent.ID, a.day)
		if err != nil {
			s.log.Error("engine: read completion failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
			return
		}
		if done {
			s.delEntry(ctx, entryKey)
			s.metrics.executions.WithLabelValues(s.action.Name, resultStale).Inc()
			return
		}
	}

	fresh, err := s.agents.Get(ctx, job.Agent.ID)
	switch {
	case errors.Is(err, agent.ErrNotFound):
		s.giveUp(ctx, a, entryKey, "agent no longer registered")
		return
	case err != nil:
		// Entry stays; the next sweep re-arms it.
		s.log.Error("engine: load agent failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		return
	}
	job.Agent = fresh
	if s.action.Eligible != nil && !s.action.Eligible(fresh, job) {
		s.giveUp(ctx, a, entryKey, "agent no longer eligible")
		return
	}

	out, err := s.exec.Execute(ctx, executor.Request{
		AgentID: job.Agent.ID,
		Action:  s.action.Name,
		Target:  job.Target,
		Params:  job.Params,
		FireAt:  a.fireAt,
	})
	var open *executor.CircuitOpenError
	if errors.As(err, &open) {
		// The backend was never called, so the entry is kept and retried.
		s.metrics.executions.WithLabelValues(s.action.Name, resultDeferred).Inc()
		s.log.Warn("engine: backend unavailable, execution deferred",
			slog.String("agent_id", job.Agent.ID),
			slog.String("target", job.Target),
			slog.Duration("retry_after", open.RetryAfter),
		)
		s.rearm(ctx, a, job, entryKey, s.now().Add(max(open.RetryAfter, s.minDelay)))
		return
	}
	if err != nil {
		s.metrics.executions.WithLabelValues(s.action.Name, resultFailure).Inc()
		s.log.Error("engine: action failed",
			slog.String("agent_id", job.Agent.ID),
			slog.String("target", job.Target),
			slog.String("error", err.Error()),
		)
		s.afterFailure(ctx, a, job, entryKey)
		return
	}

	s.metrics.executions.WithLabelValues(s.action.Name, resultSuccess).Inc()
	s.log.Info("engine: action executed",
		slog.String("agent_id", job.Agent.ID),
		slog.String("target", job.Target),
		slog.Int64("earned", out.Earned),
	)
	s.afterSuccess(ctx, a, job, entryKey, out)

	if s.action.OnSuccess != nil {
		if err := s.action.OnSuccess(ctx, job, out); err != nil {
			s.log.Error("engine: success hook failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		}
	}
}

// giveUp drops the entry and, for day-scoped actions, excludes the agent for
// the rest of the day.
func (s *Scheduler) giveUp(ctx context.Context, a *armed, entryKey, reason string) {
	s.metrics.executions.WithLabelValues(s.action.Name, resultIneligible).Inc()
	s.log.Info("engine: job dropped",
		slog.String("agent_id", a.job.Agent.ID),
		slog.String("target", a.job.Target),
		slog.String("reason", reason),
	)
	if s.action.dated() {
		s.addToSet(ctx, s.keys.Exhausted(s.action.Name, a.day), a.job.Agent.ID)
	}
	s.delEntry(ctx, entryKey)
}

func (s *Scheduler) afterFailure(ctx context.Context, a *armed, job Job, entryKey string) {
	switch s.action.Family {
	case FixedWindow:
		s.addToSet(ctx, s.keys.Exhausted(s.action.Name, a.day), job.Agent.ID)
		s.delEntry(ctx, entryKey)
	case TargetDriven:
		s.rearm(ctx, a, job, entryKey, s.now().Add(s.action.RetryDelay))
	default:
		s.delEntry(ctx, entryKey)
	}
}

func (s *Scheduler) afterSuccess(ctx context.Context, a *armed, job Job, entryKey string, out executor.Outcome) {
	switch s.action.Family {
	case FixedWindow:
		s.addToSet(ctx, s.keys.Completed(s.action.Name, a.day), job.Agent.ID)
		s.delEntry(ctx, entryKey)
	case TargetDriven:
		earnedKey := s.keys.Earned(job.Agent.ID, s.action.Name, a.day)
		earned, err := s.store.IncrBy(ctx, earnedKey, out.Earned)
		if err != nil {
			s.log.Error("engine: record progress failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		} else if err := s.store.Expire(ctx, earnedKey, setTTL); err != nil {
			s.log.Warn("engine: expire progress failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		}

		if s.action.DailyTarget != nil {
			if target := s.action.DailyTarget(job.Agent); target > 0 && earned >= target {
				s.log.Info("engine: daily target reached",
					slog.String("agent_id", job.Agent.ID),
					slog.Int64("earned", earned),
					slog.Int64("target", target),
				)
				s.addToSet(ctx, s.keys.Completed(s.action.Name, a.day), job.Agent.ID)
				s.delEntry(ctx, entryKey)
				return
			}
		}

		next := out.NextAt
		if next.IsZero() {
			next = s.now().Add(s.action.RetryDelay)
			if r, ok := s.action.Planner.(Repeater); ok {
				next = s.next(r, job)
			}
		}
		s.rearm(ctx, a, job, entryKey, next)
	default:
		s.delEntry(ctx, entryKey)
	}
}

// rearm persists the next instant of a job and arms it. For day-scoped
// actions an instant past the end of the job's day is persisted but not
// armed, which ends the job for that day: same-day sweeps recover the entry
// and leave it alone.
func (s *Scheduler) rearm(ctx context.Context, a *armed, job Job, entryKey string, next time.Time) {
	next = next.Truncate(time.Millisecond)
	now := s.now()
	if err := schedule.SetTimestamp(ctx, s.store, entryKey, next, s.entryTTL(now, next)); err != nil {
		// Old entry still points at a past instant; the next sweep recovers it.
		s.log.Error("engine: persist next instant failed", slog.String("agent_id", job.Agent.ID), slog.String("error", err.Error()))
		return
	}
	if s.action.dated() && schedule.Day(next, s.loc) != a.day {
		s.log.Debug("engine: next run falls on another day, job ends for today",
			slog.String("agent_id", job.Agent.ID),
			slog.Time("next", next),
		)
		return
	}
	s.arm(job, a.day, next, now)
}

func (s *Scheduler) addToSet(ctx context.Context, key, member string) {
	if err := s.store.SAdd(ctx, key, member); err != nil {
		s.log.Error("engine: update daily set failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := s.store.Expire(ctx, key, setTTL); err != nil {
		s.log.Warn("engine: expire daily set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) delEntry(ctx context.Context, key string) {
	if err := s.store.Del(ctx, key); err != nil {
		s.log.Error("engine: delete entry failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Armed returns the number of armed timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// ArmedAt returns the fire instant armed for agentID and target, if any.
func (s *Scheduler) ArmedAt(agentID, target string) (time.Time, bool) {
	key := Job{Agent: agent.Agent{ID: agentID}, Target: target}.key()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return a.fireAt, true
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Armed = len(s.timers)
	st.SweepsRunning = s.running.Load()
	return st
}

// Stop cancels pending executions and stops every armed timer. Persisted
// entries are kept for the next process to recover.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, key)
	}
	s.metrics.armed.WithLabelValues(s.action.Name).Set(0)
	s.log.Info("engine: scheduler stopped")
}
