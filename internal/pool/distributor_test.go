package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfi/agentfi-bot-scheduler/internal/executor"
	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
)

// mockPoolStore keeps settled epochs in memory with the same
// insert-once semantics as the pool_epochs primary key.
type mockPoolStore struct {
	mu       sync.Mutex
	pools    []store.Pool
	stakes   map[string][]store.PoolStake
	epochs   map[string]map[time.Time]store.SettleEpochParams
	paid     map[string]float64
	settleFn func(store.SettleEpochParams) error
}

func newMockPoolStore(pools ...store.Pool) *mockPoolStore {
	return &mockPoolStore{
		pools:  pools,
		stakes: make(map[string][]store.PoolStake),
		epochs: make(map[string]map[time.Time]store.SettleEpochParams),
		paid:   make(map[string]float64),
	}
}

func (m *mockPoolStore) ListUnsettledPools(_ context.Context, now time.Time) ([]store.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Pool
	for _, p := range m.pools {
		if !p.Claimable && !p.StartTime.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPoolStore) ListRunningPools(_ context.Context, now time.Time) ([]store.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Pool
	for _, p := range m.pools {
		if !p.Claimable && !p.StartTime.After(now) && p.EndTime.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPoolStore) ListPoolStakes(_ context.Context, poolID string, before time.Time) ([]store.PoolStake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.PoolStake
	for _, s := range m.stakes[poolID] {
		if s.StakedAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockPoolStore) LastPoolEpoch(_ context.Context, poolID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for end := range m.epochs[poolID] {
		if end.After(last) {
			last = end
		}
	}
	return last, !last.IsZero(), nil
}

func (m *mockPoolStore) SettleEpoch(_ context.Context, arg store.SettleEpochParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleFn != nil {
		if err := m.settleFn(arg); err != nil {
			return false, err
		}
	}
	if m.epochs[arg.PoolID] == nil {
		m.epochs[arg.PoolID] = make(map[time.Time]store.SettleEpochParams)
	}
	if _, done := m.epochs[arg.PoolID][arg.EpochEnd]; done {
		return false, nil
	}
	m.epochs[arg.PoolID][arg.EpochEnd] = arg
	for _, r := range arg.Rewards {
		m.paid[r.UserID] += r.Amount
	}
	if arg.Final {
		for i := range m.pools {
			if m.pools[i].ID == arg.PoolID {
				m.pools[i].Claimable = true
			}
		}
	}
	return true, nil
}

func newTestDistributor(ps *mockPoolStore, locks schedule.Store) *Distributor {
	return NewDistributor(ps, locks, DistributorConfig{
		EpochLength: time.Hour,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestDistributeSplitsAndNeverDoublePays(t *testing.T) {
	p := store.Pool{ID: "p1", StakedItem: ItemSeya, RewardQuantity: 300, StartTime: poolStart, EndTime: poolStart.Add(3 * time.Hour)}
	ps := newMockPoolStore(p)
	ps.stakes["p1"] = []store.PoolStake{
		{PoolID: "p1", UserID: "u1", Amount: 30, StakedAt: poolStart.Add(-time.Minute)},
		{PoolID: "p1", UserID: "b1", Amount: 70, StakedAt: poolStart.Add(-time.Minute)},
	}
	locks := schedule.NewMemoryStore(nil)
	d := newTestDistributor(ps, locks)
	now := poolStart.Add(time.Hour + time.Minute)

	n, err := d.DistributeDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 30, ps.paid["u1"], 1e-9)
	assert.InDelta(t, 70, ps.paid["b1"], 1e-9)

	settled := ps.epochs["p1"][poolStart.Add(time.Hour)]
	assert.InDelta(t, 30, settled.UserReward, 1e-9)
	assert.InDelta(t, 70, settled.BotReward, 1e-9)

	// Same epoch again: nothing new.
	n, err = d.DistributeDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.InDelta(t, 30, ps.paid["u1"], 1e-9)
	assert.InDelta(t, 70, ps.paid["b1"], 1e-9)
}

func TestDistributeCatchesUpAndFinalizes(t *testing.T) {
	p := store.Pool{ID: "p1", StakedItem: ItemSeya, RewardQuantity: 30, StartTime: poolStart, EndTime: poolStart.Add(3 * time.Hour)}
	ps := newMockPoolStore(p)
	ps.stakes["p1"] = []store.PoolStake{{PoolID: "p1", UserID: "u1", Amount: 5, StakedAt: poolStart}}
	d := newTestDistributor(ps, schedule.NewMemoryStore(nil))

	n, err := d.DistributeDue(context.Background(), poolStart.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 30, ps.paid["u1"], 1e-9)
	assert.True(t, ps.pools[0].Claimable)

	n, err = d.DistributeDue(context.Background(), poolStart.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "claimable pools are done")
}

func TestDistributeSkipsLockedPool(t *testing.T) {
	p := store.Pool{ID: "p1", StakedItem: ItemSeya, RewardQuantity: 10, StartTime: poolStart, EndTime: poolStart.Add(time.Hour)}
	ps := newMockPoolStore(p)
	locks := schedule.NewMemoryStore(nil)
	_, ok, err := locks.TryLock(context.Background(), schedule.Keys{}.PoolLock("p1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := newTestDistributor(ps, locks).DistributeDue(context.Background(), poolStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ps.epochs)
}

func TestDistributeContinuesPastFailingPool(t *testing.T) {
	bad := store.Pool{ID: "bad", StakedItem: ItemSeya, RewardQuantity: 10, StartTime: poolStart, EndTime: poolStart.Add(time.Hour)}
	good := store.Pool{ID: "good", StakedItem: ItemSeya, RewardQuantity: 10, StartTime: poolStart, EndTime: poolStart.Add(time.Hour)}
	ps := newMockPoolStore(bad, good)
	ps.stakes["good"] = []store.PoolStake{{PoolID: "good", UserID: "u1", Amount: 1, StakedAt: poolStart}}
	ps.settleFn = func(arg store.SettleEpochParams) error {
		if arg.PoolID == "bad" {
			return errors.New("tx aborted")
		}
		return nil
	}

	n, err := newTestDistributor(ps, schedule.NewMemoryStore(nil)).DistributeDue(context.Background(), poolStart.Add(2*time.Hour))
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 10, ps.paid["u1"], 1e-9)
}

func TestDistributeRecordsMetrics(t *testing.T) {
	p := store.Pool{ID: "p1", StakedItem: ItemSeya, RewardQuantity: 200, StartTime: poolStart, EndTime: poolStart.Add(2 * time.Hour)}
	ps := newMockPoolStore(p)
	ps.stakes["p1"] = []store.PoolStake{
		{PoolID: "p1", UserID: "u1", Amount: 1, StakedAt: poolStart},
		{PoolID: "p1", UserID: "b1", Amount: 3, StakedAt: poolStart},
	}
	m := NewMetrics("test", prometheus.NewRegistry())
	d := NewDistributor(ps, schedule.NewMemoryStore(nil), DistributorConfig{
		EpochLength: time.Hour,
		Metrics:     m,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	n, err := d.DistributeDue(context.Background(), poolStart.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.epochs))
	assert.InDelta(t, 50, testutil.ToFloat64(m.rewards.WithLabelValues("user")), 1e-9)
	assert.InDelta(t, 150, testutil.ToFloat64(m.rewards.WithLabelValues("bot")), 1e-9)
}

type recordingUnstaker struct {
	mu    sync.Mutex
	calls []executor.Request
	fail  map[string]bool
}

func (r *recordingUnstaker) Execute(_ context.Context, req executor.Request) (executor.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if r.fail[req.AgentID] {
		return executor.Outcome{}, errors.New("backend unavailable")
	}
	return executor.Outcome{}, nil
}

func TestFinalEpochUnstakesEveryParticipant(t *testing.T) {
	p := store.Pool{ID: "p1", StakedItem: ItemDragonBall, RewardQuantity: 20, StartTime: poolStart, EndTime: poolStart.Add(2 * time.Hour)}
	ps := newMockPoolStore(p)
	ps.stakes["p1"] = []store.PoolStake{
		{PoolID: "p1", UserID: "u1", Amount: 2, StakedAt: poolStart},
		{PoolID: "p1", UserID: "b1", Amount: 1, StakedAt: poolStart},
		{PoolID: "p1", UserID: "u1", Amount: 3, StakedAt: poolStart.Add(90 * time.Minute)},
	}
	unstaker := &recordingUnstaker{fail: map[string]bool{"b1": true}}
	d := NewDistributor(ps, schedule.NewMemoryStore(nil), DistributorConfig{
		EpochLength: time.Hour,
		Unstaker:    unstaker,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	// First epoch only: stakes stay.
	n, err := d.DistributeDue(context.Background(), poolStart.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Empty(t, unstaker.calls)

	// Final epoch: one request per participant with the summed amount. A
	// failed unstake does not fail the settlement.
	n, err = d.DistributeDue(context.Background(), poolStart.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, unstaker.calls, 2)
	assert.Equal(t, "b1", unstaker.calls[0].AgentID)
	u1 := unstaker.calls[1]
	assert.Equal(t, "u1", u1.AgentID)
	assert.Equal(t, UnstakeAction, u1.Action)
	assert.Equal(t, "pool:p1", u1.Target)
	assert.Equal(t, map[string]string{ParamPool: "p1", ParamItem: ItemDragonBall, ParamAmount: "5"}, u1.Params)

	// The pool is claimable now; nothing is unstaked twice.
	_, err = d.DistributeDue(context.Background(), poolStart.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, unstaker.calls, 2)
}
