// Package actions defines the bot actions the scheduler runs and wires each
// of them to its source, planner and eligibility rules.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/internal/window"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// Action names.
const (
	DailyCheckin     = "daily_checkin"
	BuySubscription  = "buy_subscription"
	ClaimAchievement = "claim_achievement"
	WithdrawSei      = "withdraw_sei"
	EarnGold         = "earn_gold"
	UpgradeHQ        = "upgrade_hq"
	BuyLandTree      = "buy_land_tree"
	StakePool        = "stake_pool"
)

// Registry is what the actions read agents from and write back to.
type Registry interface {
	engine.Registry
	MarkWithdrawn(ctx context.Context, id string, amount float64) error
}

// Deps are shared by every action.
type Deps struct {
	Config    config.ActionsConfig
	Location  *time.Location
	DevWindow time.Duration
	Registry  Registry
	Window    *window.Manager
	// Stakes feeds stake_pool. Without it the action is not built.
	Stakes engine.Source
	Logger *slog.Logger
}

type builder func(d Deps, c config.ActionConfig) (engine.Action, error)

// Build returns every enabled action.
func Build(d Deps) ([]engine.Action, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	all := []struct {
		name  string
		cfg   config.ActionConfig
		build builder
	}{
		{DailyCheckin, d.Config.DailyCheckin, dailyCheckin},
		{BuySubscription, d.Config.BuySubscription, buySubscription},
		{ClaimAchievement, d.Config.ClaimAchievement, claimAchievement},
		{WithdrawSei, d.Config.WithdrawSei, withdrawSei},
		{EarnGold, d.Config.EarnGold, earnGold},
		{UpgradeHQ, d.Config.UpgradeHQ, upgradeHQ},
		{BuyLandTree, d.Config.BuyLandTree, buyLandTree},
		{StakePool, d.Config.StakePool, stakePool},
	}

	var out []engine.Action
	for _, a := range all {
		if !a.cfg.Enabled {
			d.Logger.Info("actions: disabled", slog.String("action", a.name))
			continue
		}
		if a.name == StakePool && d.Stakes == nil {
			d.Logger.Warn("actions: no stake source, stake_pool not scheduled")
			continue
		}
		act, err := a.build(d, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("actions: %s: %w", a.name, err)
		}
		out = append(out, act)
	}
	return out, nil
}

func base(name string, family engine.Family, c config.ActionConfig) engine.Action {
	return engine.Action{
		Name:            name,
		Family:          family,
		Interval:        c.Interval,
		ScheduleLockTTL: c.ScheduleLockTTL,
		ExecLockTTL:     c.ExecLockTTL,
		RetryDelay:      c.RetryDelay,
	}
}

func clockWindow(d Deps, c config.ActionConfig) (engine.ClockWindow, error) {
	start, err := config.ParseClock(c.WindowStart)
	if err != nil {
		return engine.ClockWindow{}, err
	}
	end, err := config.ParseClock(c.WindowEnd)
	if err != nil {
		return engine.ClockWindow{}, err
	}
	return engine.ClockWindow{Start: start, End: end, Location: d.Location, DevWindow: d.DevWindow}, nil
}

// daily builds a fixed-window action over today's selection.
func daily(d Deps, name, behavior string, c config.ActionConfig, pred agent.Predicate, order func([]agent.Agent)) (engine.Action, error) {
	planner, err := clockWindow(d, c)
	if err != nil {
		return engine.Action{}, err
	}
	a := base(name, engine.FixedWindow, c)
	a.Planner = planner
	a.Source = engine.DailySource{
		Window:    d.Window,
		Registry:  d.Registry,
		Action:    name,
		Behavior:  behavior,
		Predicate: pred,
		Quota:     window.QuotaFromConfig(c.Quota),
		Sort:      order,
	}
	a.Eligible = func(ag agent.Agent, _ engine.Job) bool { return pred(ag) }
	return a, nil
}
