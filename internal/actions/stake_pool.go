package actions

import (
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/internal/pool"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

func stakePool(d Deps, c config.ActionConfig) (engine.Action, error) {
	a := base(StakePool, engine.Recurring, c)
	a.Planner = engine.RandomDelay{Max: c.MaxDelay}
	a.Source = d.Stakes
	a.Eligible = pool.CanStake
	return a, nil
}
