package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
)

// TaskName is the engine task that settles pool epochs.
const TaskName = "pool_distribute"

// UnstakeAction asks the backend to return a participant's stake once the
// pool's final epoch is paid.
const UnstakeAction = "unstake_pool"

// DistributorConfig configures a Distributor.
type DistributorConfig struct {
	Keys        schedule.Keys
	EpochLength time.Duration
	Interval    time.Duration
	LockTTL     time.Duration
	Metrics     *Metrics

	// Unstaker returns stakes after the final epoch. Nil leaves them staked.
	Unstaker executor.Executor
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Distributor pays out elapsed pool epochs. The persisted epoch record is
// what makes a settlement happen once: an epoch already recorded is skipped,
// whichever process recorded it.
type Distributor struct {
	pools    store.PoolStore
	locks    schedule.Store
	keys     schedule.Keys
	epochLen time.Duration
	interval time.Duration
	lockTTL  time.Duration
	metrics  *Metrics
	unstaker executor.Executor
	log      *slog.Logger
	now      func() time.Time
}

// NewDistributor creates a distributor.
func NewDistributor(pools store.PoolStore, locks schedule.Store, cfg DistributorConfig) *Distributor {
	d := &Distributor{
		pools:    pools,
		locks:    locks,
		keys:     cfg.Keys,
		epochLen: cfg.EpochLength,
		interval: cfg.Interval,
		lockTTL:  cfg.LockTTL,
		metrics:  cfg.Metrics,
		unstaker: cfg.Unstaker,
		log:      cfg.Logger,
		now:      cfg.Clock,
	}
	if d.epochLen <= 0 {
		d.epochLen = time.Hour
	}
	if d.interval <= 0 {
		d.interval = time.Minute
	}
	if d.lockTTL <= 0 {
		d.lockTTL = 5 * time.Minute
	}
	if d.metrics == nil {
		d.metrics = NewMetrics("", prometheus.NewRegistry())
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.log = d.log.With(slog.String("task", TaskName))
	return d
}

func (d *Distributor) Name() string            { return TaskName }
func (d *Distributor) Interval() time.Duration { return d.interval }

func (d *Distributor) Run(ctx context.Context) error {
	_, err := d.DistributeDue(ctx, d.now())
	return err
}

// DistributeDue settles every epoch that ended at or before now, oldest
// first, and returns how many epochs it settled. A failing pool does not
// stop the others.
func (d *Distributor) DistributeDue(ctx context.Context, now time.Time) (int, error) {
	pools, err := d.pools.ListUnsettledPools(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("pool: list unsettled: %w", err)
	}
	var (
		settled int
		errs    []error
	)
	for _, p := range pools {
		n, err := d.settlePool(ctx, p, now)
		settled += n
		if err != nil {
			d.log.Error("pool: settlement failed", slog.String("pool_id", p.ID), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return settled, errors.Join(errs...)
}

func (d *Distributor) settlePool(ctx context.Context, p store.Pool, now time.Time) (int, error) {
	lockKey := d.keys.PoolLock(p.ID)
	token, ok, err := d.locks.TryLock(ctx, lockKey, d.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("pool %s: lock: %w", p.ID, err)
	}
	if !ok {
		d.log.Debug("pool: settlement running elsewhere", slog.String("pool_id", p.ID))
		return 0, nil
	}
	defer func() {
		if err := d.locks.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil && !errors.Is(err, schedule.ErrNotLockOwner) {
			d.log.Warn("pool: unlock failed", slog.String("pool_id", p.ID), slog.String("error", err.Error()))
		}
	}()

	last, hasLast, err := d.pools.LastPoolEpoch(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("pool %s: last epoch: %w", p.ID, err)
	}

	epochs := Epochs(p.StartTime, p.EndTime, d.epochLen)
	if len(epochs) == 0 {
		return 0, nil
	}
	perEpoch := p.RewardQuantity / float64(len(epochs))

	settled := 0
	for _, e := range epochs {
		if hasLast && !e.End.After(last) {
			continue
		}
		if e.End.After(now) {
			break
		}
		stakes, err := d.pools.ListPoolStakes(ctx, p.ID, e.End)
		if err != nil {
			return settled, fmt.Errorf("pool %s: stakes: %w", p.ID, err)
		}
		rewards := Split(Points(stakes, e.End, d.epochLen), perEpoch)
		sum := Summarize(rewards)

		inserted, err := d.pools.SettleEpoch(ctx, store.SettleEpochParams{
			PoolID:     p.ID,
			EpochEnd:   e.End,
			Reward:     sum.Total,
			UserReward: sum.User,
			BotReward:  sum.Bot,
			Rewards:    rewards,
			Final:      e.Final,
		})
		if err != nil {
			return settled, err
		}
		if !inserted {
			continue
		}
		settled++
		d.metrics.settled(sum)
		d.log.Info("pool: epoch settled",
			slog.String("pool_id", p.ID),
			slog.Int("epoch", e.Index),
			slog.Time("epoch_end", e.End),
			slog.Float64("reward", sum.Total),
			slog.Float64("user_reward", sum.User),
			slog.Float64("bot_reward", sum.Bot),
			slog.Int("participants", sum.Participants),
			slog.Bool("final", e.Final),
		)
		if e.Final {
			d.unstakeAll(ctx, p, stakes)
		}
	}
	return settled, nil
}

// unstakeAll hands every participant's stake back once the pool is
// claimable. It runs only in the process that recorded the final epoch.
// Failures are logged per participant and not retried.
func (d *Distributor) unstakeAll(ctx context.Context, p store.Pool, stakes []store.PoolStake) {
	if d.unstaker == nil {
		return
	}
	totals := make(map[string]int64)
	for _, st := range stakes {
		totals[st.UserID] += st.Amount
	}
	users := make([]string, 0, len(totals))
	for id := range totals {
		users = append(users, id)
	}
	sort.Strings(users)

	d.log.Info("pool: unstaking participants", slog.String("pool_id", p.ID), slog.Int("participants", len(users)))
	for _, id := range users {
		_, err := d.unstaker.Execute(ctx, executor.Request{
			AgentID: id,
			Action:  UnstakeAction,
			Target:  "pool:" + p.ID,
			Params: map[string]string{
				ParamPool:   p.ID,
				ParamItem:   p.StakedItem,
				ParamAmount: strconv.FormatInt(totals[id], 10),
			},
			FireAt: d.now(),
		})
		if err != nil {
			d.log.Error("pool: unstake failed",
				slog.String("pool_id", p.ID),
				slog.String("user_id", id),
				slog.Int64("amount", totals[id]),
				slog.String("error", err.Error()),
			)
		}
	}
}
