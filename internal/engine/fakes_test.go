package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
)

// --- clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- timers ---

type fakeTimer struct {
	owner   *fakeTimers
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// fakeTimers records armed callbacks; tests fire them explicitly.
type fakeTimers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{owner: ft, delay: d, f: f}
	ft.all = append(ft.all, t)
	return t
}

func (ft *fakeTimers) pending() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []*fakeTimer
	for _, t := range ft.all {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every pending timer once. Timers armed by the callbacks stay
// pending.
func (ft *fakeTimers) fireAll() int {
	batch := ft.pending()
	ft.mu.Lock()
	for _, t := range batch {
		t.fired = true
	}
	ft.mu.Unlock()
	for _, t := range batch {
		t.f()
	}
	return len(batch)
}

// --- agents ---

type fakeAgents struct {
	mu     sync.Mutex
	byID   map[string]agent.Agent
	getErr error
}

func newFakeAgents(agents ...agent.Agent) *fakeAgents {
	f := &fakeAgents{byID: make(map[string]agent.Agent)}
	for _, a := range agents {
		f.byID[a.ID] = a
	}
	return f
}

func (f *fakeAgents) put(a agent.Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[a.ID] = a
}

func (f *fakeAgents) Get(_ context.Context, id string) (agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return agent.Agent{}, f.getErr
	}
	a, ok := f.byID[id]
	if !ok {
		return agent.Agent{}, agent.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgents) ListEligible(_ context.Context, _ string, pred agent.Predicate) ([]agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agent.Agent
	for _, a := range f.byID {
		if pred == nil || pred(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) GetMany(_ context.Context, ids []string) ([]agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agent.Agent
	for _, id := range ids {
		if a, ok := f.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- executor ---

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []executor.Request
	outcome executor.Outcome
	err     error
	delay   time.Duration
}

func (r *recordingExecutor) Execute(_ context.Context, req executor.Request) (executor.Outcome, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return r.outcome, r.err
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// --- logging ---

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

// --- harness ---

type harness struct {
	clock  *fakeClock
	store  *schedule.MemoryStore
	timers *fakeTimers
	agents *fakeAgents
	exec   *recordingExecutor
	logs   *recordingHandler

	// via, when set, sits between the scheduler and exec.
	via func(executor.Executor) executor.Executor
}

func newHarness(now time.Time, agents ...agent.Agent) *harness {
	clock := newFakeClock(now)
	return &harness{
		clock:  clock,
		store:  schedule.NewMemoryStore(clock.Now),
		timers: &fakeTimers{},
		agents: newFakeAgents(agents...),
		exec:   &recordingExecutor{},
		logs:   &recordingHandler{},
	}
}

func (h *harness) scheduler(t *testing.T, action Action, seed uint64) *Scheduler {
	t.Helper()
	var exec executor.Executor = h.exec
	if h.via != nil {
		exec = h.via(h.exec)
	}
	s := NewScheduler(action, Deps{
		Store:       h.store,
		Agents:      h.agents,
		Executor:    exec,
		Location:    time.UTC,
		MinDelay:    time.Second,
		Concurrency: 4,
		Metrics:     NewMetrics("test", prometheus.NewRegistry()),
		Logger:      slog.New(h.logs),
		Clock:       h.clock.Now,
		AfterFunc:   h.timers.AfterFunc,
		Rand:        rand.New(rand.NewPCG(seed, seed+1)),
	})
	t.Cleanup(s.Stop)
	return s
}

func checkinAgent(id string) agent.Agent {
	return agent.Agent{ID: id, Balance: "1", Behaviors: agent.Behaviors{DailyCheckin: true}}
}

func checkinAction(src Source) Action {
	return Action{
		Name:     "daily_checkin",
		Family:   FixedWindow,
		Interval: 5 * time.Minute,
		Planner:  ClockWindow{Start: 15 * time.Minute, End: 23*time.Hour + 45*time.Minute, Location: time.UTC},
		Source:   src,
		Eligible: func(a agent.Agent, _ Job) bool { return a.Behaviors.DailyCheckin },
	}
}

func staticSource(jobs ...Job) Source {
	return SourceFunc(func(context.Context, time.Time) ([]Job, error) { return jobs, nil })
}

func newRecordingLogger(h *recordingHandler) *slog.Logger {
	return slog.New(h)
}
