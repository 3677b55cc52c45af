package actions

import (
	"context"
	"errors"
	"sort"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// Withdrawal is once per agent, ever: a recorded amount makes it ineligible.
func withdrawEligible(a agent.Agent) bool {
	return a.Behaviors.BuySubscription.Enabled && a.WithdrewSei == 0
}

func byWithdrawn(as []agent.Agent) {
	sort.SliceStable(as, func(i, j int) bool { return as[i].WithdrewSei < as[j].WithdrewSei })
}

func withdrawSei(d Deps, c config.ActionConfig) (engine.Action, error) {
	a, err := daily(d, WithdrawSei, agent.BehaviorBuySubscription, c, withdrawEligible, byWithdrawn)
	if err != nil {
		return engine.Action{}, err
	}
	a.OnSuccess = recordWithdrawal(d.Registry)
	return a, nil
}

func recordWithdrawal(r Registry) func(ctx context.Context, job engine.Job, out executor.Outcome) error {
	return func(ctx context.Context, job engine.Job, out executor.Outcome) error {
		if out.Amount <= 0 {
			return errors.New("actions: withdrawal amount not reported")
		}
		return r.MarkWithdrawn(ctx, job.Agent.ID, out.Amount)
	}
}
