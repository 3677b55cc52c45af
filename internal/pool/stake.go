package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/agent"
	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// Params carried by stake jobs.
const (
	ParamPool   = "pool_id"
	ParamItem   = "item"
	ParamAmount = "amount"
)

// RunningPools lists pools open for staking.
type RunningPools interface {
	ListRunningPools(ctx context.Context, now time.Time) ([]store.Pool, error)
}

// Holders lists bots holding a stakeable item.
type Holders interface {
	ListHolders(ctx context.Context, item string) ([]agent.Agent, error)
}

// Need is how much more the bots must stake to bring the user share of p
// back down to its target ratio rp. It is at least 1, so bots keep trickling
// stakes into every running pool.
func Need(p store.Pool) int64 {
	if p.Rp <= 0 {
		return 1
	}
	if float64(p.UserStaked) <= p.Rp*float64(p.TotalStaked) {
		return 1
	}
	need := int64(math.Ceil(float64(p.UserStaked)/p.Rp)) - p.BotStaked
	return max(need, 1)
}

// Holding returns how much of item a holds.
func Holding(a agent.Agent, item string) int64 {
	switch item {
	case ItemSeya:
		return a.Seya
	case ItemDragonBall:
		return a.DragonBalls
	default:
		return 0
	}
}

// CanStake reports whether a still holds the amount a stake job carries.
func CanStake(a agent.Agent, job engine.Job) bool {
	amount, err := strconv.ParseInt(job.Params[ParamAmount], 10, 64)
	if err != nil || amount <= 0 {
		return false
	}
	return Holding(a, job.Params[ParamItem]) >= amount
}

// StakeSource yields the stake jobs that keep bots at each running pool's
// target ratio.
type StakeSource struct {
	pools   RunningPools
	holders Holders
	cfg     config.PoolConfig
	log     *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStakeSource creates a stake source.
func NewStakeSource(pools RunningPools, holders Holders, cfg config.PoolConfig, rng *rand.Rand, logger *slog.Logger) *StakeSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x57a4e))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StakeSource{pools: pools, holders: holders, cfg: cfg, rng: rng, log: logger}
}

func (s *StakeSource) Jobs(ctx context.Context, now time.Time) ([]engine.Job, error) {
	pools, err := s.pools.ListRunningPools(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("pool: list running: %w", err)
	}
	holders := make(map[string][]agent.Agent)
	var jobs []engine.Job
	for _, p := range pools {
		list, ok := holders[p.StakedItem]
		if !ok {
			list, err = s.holders.ListHolders(ctx, p.StakedItem)
			if err != nil {
				return nil, err
			}
			holders[p.StakedItem] = list
		}
		planned := s.plan(p, list)
		s.log.Debug("pool: stakes planned",
			slog.String("pool_id", p.ID),
			slog.Int64("need", Need(p)),
			slog.Int("bots", len(planned)),
		)
		jobs = append(jobs, planned...)
	}
	return jobs, nil
}

// plan walks the holders in random order, staking a holder's whole holding
// while the remaining need covers it and a small random amount otherwise,
// until the need is met.
func (s *StakeSource) plan(p store.Pool, holders []agent.Agent) []engine.Job {
	need := Need(p)
	order := make([]agent.Agent, 0, len(holders))
	for _, a := range holders {
		if IsBot(a.ID) && Holding(a, p.StakedItem) > 0 {
			order = append(order, a)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var (
		jobs      []engine.Job
		scheduled int64
	)
	for _, a := range order {
		if scheduled >= need {
			break
		}
		holding := Holding(a, p.StakedItem)
		amount := holding
		if need-scheduled < holding {
			amount = min(s.smallStake(p.StakedItem), holding)
		}
		scheduled += amount
		jobs = append(jobs, engine.Job{
			Agent:  a,
			Target: "pool:" + p.ID,
			Params: map[string]string{
				ParamPool:   p.ID,
				ParamItem:   p.StakedItem,
				ParamAmount: strconv.FormatInt(amount, 10),
			},
		})
	}
	return jobs
}

func (s *StakeSource) smallStake(item string) int64 {
	lo, hi := s.cfg.MinSeya, s.cfg.MaxSeya
	if item == ItemDragonBall {
		lo, hi = s.cfg.MinDragonBalls, s.cfg.MaxDragonBalls
	}
	if hi <= lo {
		return max(lo, 1)
	}
	return max(lo+s.rng.Int64N(hi-lo+1), 1)
}
