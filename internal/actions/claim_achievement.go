package actions

import (
	"sort"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

func achievementEligible(a agent.Agent) bool {
	return a.Behaviors.ClaimAchievement.Enabled && !a.AchievementClaimed
}

// byBalance puts the poorest agents first.
func byBalance(as []agent.Agent) {
	sort.SliceStable(as, func(i, j int) bool { return as[i].BalanceValue() < as[j].BalanceValue() })
}

func claimAchievement(d Deps, c config.ActionConfig) (engine.Action, error) {
	return daily(d, ClaimAchievement, agent.BehaviorClaimAchievement, c, achievementEligible, byBalance)
}
