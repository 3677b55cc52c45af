package actions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

const (
	// Slots 1 to 3 come with every account.
	defaultLands  = 3
	firstTreeSlot = 7
	kindLand      = "land"
	kindTree      = "tree"
	paramSlot     = "slot"
)

func landTarget(kind string, slot int) string {
	return fmt.Sprintf("%s:%d", kind, slot)
}

func parseLandTarget(target string) (kind string, slot int, ok bool) {
	kind, s, found := strings.Cut(target, ":")
	if !found {
		return "", 0, false
	}
	slot, err := strconv.Atoi(s)
	if err != nil {
		return "", 0, false
	}
	return kind, slot, kind == kindLand || kind == kindTree
}

func ownedLands(a agent.Agent) int {
	return max(a.LandSlots, defaultLands)
}

// landTreeJobs chains the missing purchases of an agent: each land, then the
// tree on it for slots from firstTreeSlot on. Every purchase is offset one
// step after the previous so they run in slot order.
func landTreeJobs(step time.Duration) engine.Expander {
	return func(a agent.Agent) []engine.Job {
		var (
			jobs []engine.Job
			n    int
		)
		add := func(kind string, slot int) {
			jobs = append(jobs, engine.Job{
				Agent:  a,
				Target: landTarget(kind, slot),
				Offset: time.Duration(n) * step,
				Params: map[string]string{paramSlot: strconv.Itoa(slot)},
			})
			n++
		}
		owned := ownedLands(a)
		for slot := defaultLands + 1; slot <= a.Behaviors.BuyLand.MaxLand; slot++ {
			if slot > owned {
				add(kindLand, slot)
			}
			if slot >= firstTreeSlot && !a.HasTree(slot) {
				add(kindTree, slot)
			}
		}
		return jobs
	}
}

func landTreeWanted(a agent.Agent) bool {
	return a.Behaviors.BuyLand.Enabled && len(landTreeJobs(0)(a)) > 0
}

// landTreeEligible checks a single purchase: a land must still be missing,
// a tree needs its land bought and no tree on it yet.
func landTreeEligible(a agent.Agent, job engine.Job) bool {
	b := a.Behaviors.BuyLand
	kind, slot, ok := parseLandTarget(job.Target)
	if !ok || !b.Enabled || slot > b.MaxLand {
		return false
	}
	if kind == kindLand {
		return slot > ownedLands(a)
	}
	return slot <= ownedLands(a) && !a.HasTree(slot)
}

func buyLandTree(d Deps, c config.ActionConfig) (engine.Action, error) {
	a := base(BuyLandTree, engine.Recurring, c)
	a.Planner = engine.RandomDelay{Max: c.MaxDelay}
	a.Source = engine.EligibleSource{
		Registry:  d.Registry,
		Behavior:  agent.BehaviorBuyLand,
		Predicate: landTreeWanted,
		Expand:    landTreeJobs(c.MaxDelay),
	}
	a.Eligible = landTreeEligible
	return a, nil
}
