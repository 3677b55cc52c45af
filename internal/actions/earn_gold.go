package actions

import (
	"strconv"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

const (
	earnInitialDelay = 10 * time.Second
	earnTargetWindow = 10 * time.Minute
)

func earnEligible(a agent.Agent) bool {
	e := a.Behaviors.EarnGold
	return e.Enabled && (e.Speed > 0 || e.Target > 0)
}

func earnJobs(a agent.Agent) []engine.Job {
	e := a.Behaviors.EarnGold
	return []engine.Job{{
		Agent: a,
		Params: map[string]string{
			engine.ParamSpeed:  strconv.Itoa(min(e.Speed, agent.MaxSpeed)),
			engine.ParamTarget: strconv.FormatInt(e.Target, 10),
		},
	}}
}

func earnGold(d Deps, c config.ActionConfig) (engine.Action, error) {
	a := base(EarnGold, engine.TargetDriven, c)
	a.Planner = engine.SpeedDelay{
		Base:         c.MaxDelay,
		Initial:      earnInitialDelay,
		TargetWindow: earnTargetWindow,
		Location:     d.Location,
	}
	a.Source = engine.EligibleSource{
		Registry:  d.Registry,
		Behavior:  agent.BehaviorEarnGold,
		Predicate: earnEligible,
		Expand:    earnJobs,
	}
	a.Eligible = func(ag agent.Agent, _ engine.Job) bool { return earnEligible(ag) }
	a.DailyTarget = func(ag agent.Agent) int64 { return ag.Behaviors.EarnGold.Target }
	return a, nil
}
