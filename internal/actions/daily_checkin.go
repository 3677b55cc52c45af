package actions

import (
	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

func checkinEligible(floor float64) agent.Predicate {
	return agent.All(
		func(a agent.Agent) bool { return a.Behaviors.DailyCheckin },
		agent.BalanceAbove(floor),
	)
}

func dailyCheckin(d Deps, c config.ActionConfig) (engine.Action, error) {
	return daily(d, DailyCheckin, agent.BehaviorDailyCheckin, c, checkinEligible(c.BalanceFloor), nil)
}
