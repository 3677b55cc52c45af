package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
)

// Family decides how an action treats completion and failure.
type Family int

const (
	// FixedWindow actions run at most once per agent per day. Neither success
	// nor failure is retried the same day.
	FixedWindow Family = iota
	// TargetDriven actions re-arm after every execution until the agent's
	// daily target is met.
	TargetDriven
	// Recurring actions are not scoped to a day. Each execution consumes its
	// entry and the next sweep plans a fresh one while the agent qualifies.
	Recurring
)

func (f Family) String() string {
	switch f {
	case FixedWindow:
		return "fixed_window"
	case TargetDriven:
		return "target_driven"
	case Recurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// Job is one unit of scheduling: an agent and, for actions that fan out per
// agent, a target such as a land slot or a pool.
type Job struct {
	Agent  agent.Agent
	Target string
	// Offset is added ahead of the planner's random delay. It orders chained
	// jobs of the same agent.
	Offset time.Duration
	Params map[string]string
}

func (j Job) key() string {
	if j.Target == "" {
		return j.Agent.ID
	}
	return j.Agent.ID + "/" + j.Target
}

// Planner picks the first fire instant of a job. ok is false when the job
// must not run now, e.g. the day's window already closed.
type Planner interface {
	First(now time.Time, job Job, rng *rand.Rand) (fireAt time.Time, ok bool)
}

// Repeater picks the next instant after a target-driven execution.
type Repeater interface {
	Next(now time.Time, job Job, rng *rand.Rand) time.Time
}

// Source yields the jobs a sweep should consider.
type Source interface {
	Jobs(ctx context.Context, now time.Time) ([]Job, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, now time.Time) ([]Job, error)

func (f SourceFunc) Jobs(ctx context.Context, now time.Time) ([]Job, error) {
	return f(ctx, now)
}

// Action describes one schedulable bot action.
type Action struct {
	Name     string
	Family   Family
	Interval time.Duration
	Planner  Planner
	Source   Source

	// Eligible is checked again on a freshly loaded agent right before the
	// executor is called. Nil accepts every agent.
	Eligible func(a agent.Agent, job Job) bool
	// DailyTarget is the goal of a target-driven action. Zero or less means
	// the action keeps running for the whole day.
	DailyTarget func(a agent.Agent) int64
	// OnSuccess runs after a successful execution. Its error is logged only.
	OnSuccess func(ctx context.Context, job Job, out executor.Outcome) error

	ScheduleLockTTL time.Duration
	ExecLockTTL     time.Duration
	RetryDelay      time.Duration
}

func (a *Action) setDefaults() {
	if a.ScheduleLockTTL <= 0 {
		a.ScheduleLockTTL = 10 * time.Second
	}
	if a.ExecLockTTL <= 0 {
		a.ExecLockTTL = 60 * time.Second
	}
	if a.RetryDelay <= 0 {
		a.RetryDelay = 10 * time.Minute
	}
	if a.Interval <= 0 {
		a.Interval = time.Minute
	}
}

func (a *Action) dated() bool {
	return a.Family != Recurring
}
