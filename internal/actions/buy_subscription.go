package actions

import (
	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// subscriptionEligible requires at least one plan the agent is allowed to buy.
func subscriptionEligible(floor float64) agent.Predicate {
	return agent.All(
		func(a agent.Agent) bool {
			s := a.Behaviors.BuySubscription
			return s.Enabled && (s.NoAds7d || s.Basic7d)
		},
		agent.BalanceAbove(floor),
	)
}

func buySubscription(d Deps, c config.ActionConfig) (engine.Action, error) {
	return daily(d, BuySubscription, agent.BehaviorBuySubscription, c, subscriptionEligible(c.BalanceFloor), nil)
}
