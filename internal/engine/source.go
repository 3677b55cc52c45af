package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/window"
)

// Registry is the part of agent.Registry the sources read.
type Registry interface {
	ListEligible(ctx context.Context, behavior string, pred agent.Predicate) ([]agent.Agent, error)
	GetMany(ctx context.Context, ids []string) ([]agent.Agent, error)
}

// Expander turns an agent into its jobs. Nil yields one untargeted job.
type Expander func(a agent.Agent) []Job

func expand(e Expander, agents []agent.Agent) []Job {
	jobs := make([]Job, 0, len(agents))
	for _, a := range agents {
		if e == nil {
			jobs = append(jobs, Job{Agent: a})
			continue
		}
		jobs = append(jobs, e(a)...)
	}
	return jobs
}

// DailySource yields the agents in today's selection, resetting the
// selection first when the day has turned.
type DailySource struct {
	Window    *window.Manager
	Registry  Registry
	Action    string
	Behavior  string
	Predicate agent.Predicate
	Quota     window.Quota
	// Sort orders the eligible population before an OrderFirst selection.
	Sort   func([]agent.Agent)
	Expand Expander
}

func (d DailySource) Jobs(ctx context.Context, now time.Time) ([]Job, error) {
	plan := window.Plan{
		Action: d.Action,
		Quota:  d.Quota,
		Eligible: func(ctx context.Context) ([]string, error) {
			agents, err := d.Registry.ListEligible(ctx, d.Behavior, d.Predicate)
			if err != nil {
				return nil, err
			}
			if d.Sort != nil {
				d.Sort(agents)
			}
			ids := make([]string, len(agents))
			for i, a := range agents {
				ids[i] = a.ID
			}
			return ids, nil
		},
	}
	if _, err := d.Window.Ensure(ctx, plan, now); err != nil {
		return nil, err
	}

	ids, err := d.Window.Selected(ctx, d.Action, now)
	if err != nil {
		return nil, err
	}
	agents, err := d.Registry.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("engine: load selection: %w", err)
	}
	if d.Predicate != nil {
		kept := agents[:0]
		for _, a := range agents {
			if d.Predicate(a) {
				kept = append(kept, a)
			}
		}
		agents = kept
	}
	return expand(d.Expand, agents), nil
}

// EligibleSource yields every eligible agent on each sweep.
type EligibleSource struct {
	Registry  Registry
	Behavior  string
	Predicate agent.Predicate
	Expand    Expander
}

func (s EligibleSource) Jobs(ctx context.Context, _ time.Time) ([]Job, error) {
	agents, err := s.Registry.ListEligible(ctx, s.Behavior, s.Predicate)
	if err != nil {
		return nil, err
	}
	return expand(s.Expand, agents), nil
}
