package actions

import (
	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

func upgradeEligible(a agent.Agent) bool {
	u := a.Behaviors.UpgradeHQ
	return u.Enabled && a.HQLevel < u.MaxLevel
}

func upgradeHQ(d Deps, c config.ActionConfig) (engine.Action, error) {
	a := base(UpgradeHQ, engine.Recurring, c)
	a.Planner = engine.RandomDelay{Max: c.MaxDelay}
	a.Source = engine.EligibleSource{
		Registry:  d.Registry,
		Behavior:  agent.BehaviorUpgradeHQ,
		Predicate: upgradeEligible,
	}
	a.Eligible = func(ag agent.Agent, _ engine.Job) bool { return upgradeEligible(ag) }
	return a, nil
}
