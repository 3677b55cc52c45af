// Package agent provides the bot agent model and the registry the schedulers
// read eligible agents from.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
)

// Errors returned by the registry.
var (
	ErrNotFound = errors.New("agent: not found")
)

// Behavior keys as stored in the behaviors JSON document.
const (
	BehaviorDailyCheckin     = "dailyCheckin"
	BehaviorBuyLand          = "buyLand"
	BehaviorEarnGold         = "earnGold"
	BehaviorBuySubscription  = "buySubscription"
	BehaviorUpgradeHQ        = "upgradeHQ"
	BehaviorClaimAchievement = "claimAchievement"
	BehaviorStakePool        = "stakePool"
)

// MaxSpeed is the fastest earn-gold speed.
const MaxSpeed = 10

type BuyLand struct {
	Enabled bool `json:"enabled"`
	MaxLand int  `json:"maxLand"`
}

type EarnGold struct {
	Enabled bool  `json:"enabled"`
	Target  int64 `json:"target"`
	Speed   int   `json:"speed"`
}

type BuySubscription struct {
	Enabled bool `json:"enabled"`
	NoAds7d bool `json:"noAds7d"`
	Basic7d bool `json:"basic7d"`
}

type UpgradeHQ struct {
	Enabled  bool `json:"enabled"`
	MaxLevel int  `json:"maxLevel"`
}

type Toggle struct {
	Enabled bool `json:"enabled"`
}

// Behaviors is the per-agent action configuration.
type Behaviors struct {
	DailyCheckin     bool            `json:"dailyCheckin"`
	BuyLand          BuyLand         `json:"buyLand"`
	EarnGold         EarnGold        `json:"earnGold"`
	BuySubscription  BuySubscription `json:"buySubscription"`
	UpgradeHQ        UpgradeHQ       `json:"upgradeHQ"`
	ClaimAchievement Toggle          `json:"claimAchievement"`
	StakePool        Toggle          `json:"stakePool"`
}

// Agent is a bot account acting on behalf of a telegram user.
type Agent struct {
	ID                 string    `json:"id"`
	WalletAddress      string    `json:"wallet_address"`
	Balance            string    `json:"balance"`
	LastRefreshed      time.Time `json:"last_refreshed"`
	Behaviors          Behaviors `json:"behaviors"`
	HQLevel            int       `json:"hq_level"`
	LandSlots          int       `json:"land_slots"`
	TreeSlots          []int     `json:"tree_slots"`
	Seya               int64     `json:"seya"`
	DragonBalls        int64     `json:"dragon_balls"`
	WithdrewSei        float64   `json:"withdrew_sei"`
	AchievementClaimed bool      `json:"achievement_claimed"`
}

// BalanceValue parses Balance. Unparsable balances count as zero.
func (a Agent) BalanceValue() float64 {
	v, err := strconv.ParseFloat(a.Balance, 64)
	if err != nil {
		return 0
	}
	return v
}

// HasTree reports whether slot already carries a tree.
func (a Agent) HasTree(slot int) bool {
	for _, s := range a.TreeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// fromRow converts a store.BotAgent to an Agent.
func fromRow(r store.BotAgent) Agent {
	var b Behaviors
	if len(r.Behaviors) > 0 {
		if err := json.Unmarshal(r.Behaviors, &b); err != nil {
			slog.Warn("agent: corrupt behaviors, treating as disabled",
				slog.String("agent_id", r.ID), slog.String("error", err.Error()))
			b = Behaviors{}
		}
	}

	trees := make([]int, len(r.TreeSlots))
	for i, s := range r.TreeSlots {
		trees[i] = int(s)
	}

	a := Agent{
		ID:                 r.ID,
		WalletAddress:      r.WalletAddress,
		Balance:            r.Balance,
		Behaviors:          b,
		HQLevel:            int(r.HqLevel),
		LandSlots:          int(r.LandSlots),
		TreeSlots:          trees,
		Seya:               r.Seya,
		DragonBalls:        r.DragonBalls,
		WithdrewSei:        r.WithdrewSei,
		AchievementClaimed: r.AchievementClaimed,
	}
	if r.LastRefreshed.Valid {
		a.LastRefreshed = r.LastRefreshed.Time
	}
	return a
}

// Registry answers which agents exist and which are eligible for an action.
type Registry struct {
	store store.AgentStore
}

// NewRegistry creates a registry over s.
func NewRegistry(s store.AgentStore) *Registry {
	return &Registry{store: s}
}

// ListEligible returns the agents with behavior switched on that satisfy
// pred. A storage error returns no agents at all.
func (r *Registry) ListEligible(ctx context.Context, behavior string, pred Predicate) ([]Agent, error) {
	rows, err := r.store.ListBotAgentsByBehavior(ctx, behavior)
	if err != nil {
		return nil, fmt.Errorf("agent: list %s: %w", behavior, err)
	}
	out := make([]Agent, 0, len(rows))
	for _, row := range rows {
		a := fromRow(row)
		if pred == nil || pred(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Get loads a single agent.
func (r *Registry) Get(ctx context.Context, id string) (Agent, error) {
	row, err := r.store.GetBotAgent(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("agent: get %s: %w", id, err)
	}
	return fromRow(row), nil
}

// GetMany loads agents by id. Unknown ids are silently absent.
func (r *Registry) GetMany(ctx context.Context, ids []string) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.store.ListBotAgentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("agent: get many: %w", err)
	}
	out := make([]Agent, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// ListHolders returns agents holding item ("seya" or "dragon_ball").
func (r *Registry) ListHolders(ctx context.Context, item string) ([]Agent, error) {
	rows, err := r.store.ListBotHolders(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("agent: list holders of %s: %w", item, err)
	}
	out := make([]Agent, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// MarkWithdrawn records that an agent withdrew amount.
func (r *Registry) MarkWithdrawn(ctx context.Context, id string, amount float64) error {
	if err := r.store.AddBotWithdrawn(ctx, id, amount); err != nil {
		return fmt.Errorf("agent: mark withdrawn %s: %w", id, err)
	}
	return nil
}
