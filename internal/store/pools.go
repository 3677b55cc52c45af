package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const poolColumns = `id, staked_item, reward_quantity, start_time, end_time, rp,
	user_staked, bot_staked, total_staked, claimable`

// ListUnsettledPools returns started pools that are not yet claimable.
func (q *Queries) ListUnsettledPools(ctx context.Context, now time.Time) ([]Pool, error) {
	rows, err := q.db.Query(ctx, `SELECT `+poolColumns+` FROM pools
		WHERE claimable = false AND start_time <= $1 ORDER BY start_time`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Pool])
}

// ListRunningPools returns pools open for staking at now.
func (q *Queries) ListRunningPools(ctx context.Context, now time.Time) ([]Pool, error) {
	rows, err := q.db.Query(ctx, `SELECT `+poolColumns+` FROM pools
		WHERE claimable = false AND start_time <= $1 AND end_time > $1 ORDER BY start_time`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Pool])
}

func (q *Queries) ListPoolStakes(ctx context.Context, poolID string, before time.Time) ([]PoolStake, error) {
	rows, err := q.db.Query(ctx, `SELECT pool_id, user_id, amount, staked_at FROM pool_stakes
		WHERE pool_id = $1 AND staked_at < $2 ORDER BY staked_at`, poolID, before)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[PoolStake])
}

func (q *Queries) LastPoolEpoch(ctx context.Context, poolID string) (time.Time, bool, error) {
	var last pgtype.Timestamptz
	err := q.db.QueryRow(ctx, `SELECT max(epoch_end) FROM pool_epochs WHERE pool_id = $1`, poolID).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// insertPoolEpoch reports false when the epoch was already settled.
func (q *Queries) insertPoolEpoch(ctx context.Context, arg SettleEpochParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO pool_epochs (pool_id, epoch_end, reward, user_reward, bot_reward)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pool_id, epoch_end) DO NOTHING`,
		arg.PoolID, arg.EpochEnd, arg.Reward, arg.UserReward, arg.BotReward)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) insertPoolRewards(ctx context.Context, poolID string, epochEnd time.Time, rewards []PoolReward) error {
	if len(rewards) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rewards {
		batch.Queue(`INSERT INTO pool_rewards (pool_id, user_id, epoch_end, points, amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (pool_id, user_id, epoch_end) DO NOTHING`,
			poolID, r.UserID, epochEnd, r.Points, r.Amount)
	}
	br := q.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rewards {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) markPoolClaimable(ctx context.Context, poolID string) error {
	_, err := q.db.Exec(ctx, `UPDATE pools SET claimable = true WHERE id = $1`, poolID)
	return err
}

// SettleEpoch records an epoch and its rewards atomically. It returns false,
// writing nothing, when the epoch had already been settled.
func (s *Store) SettleEpoch(ctx context.Context, arg SettleEpochParams) (bool, error) {
	var inserted bool
	err := s.Tx(ctx, func(q *Queries) error {
		ok, err := q.insertPoolEpoch(ctx, arg)
		if err != nil {
			return fmt.Errorf("insert epoch: %w", err)
		}
		if !ok {
			return nil
		}
		inserted = true
		if err := q.insertPoolRewards(ctx, arg.PoolID, arg.EpochEnd, arg.Rewards); err != nil {
			return fmt.Errorf("insert rewards: %w", err)
		}
		if arg.Final {
			if err := q.markPoolClaimable(ctx, arg.PoolID); err != nil {
				return fmt.Errorf("mark claimable: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: settle epoch %s: %w", arg.PoolID, err)
	}
	return inserted, nil
}
