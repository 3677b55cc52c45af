package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// BotAgent is a row of bot_agents.
type BotAgent struct {
	ID                 string             `db:"id"`
	WalletAddress      string             `db:"wallet_address"`
	Balance            string             `db:"balance"`
	LastRefreshed      pgtype.Timestamptz `db:"last_refreshed"`
	Behaviors          []byte             `db:"behaviors"`
	HqLevel            int32              `db:"hq_level"`
	LandSlots          int32              `db:"land_slots"`
	TreeSlots          []int32            `db:"tree_slots"`
	Seya               int64              `db:"seya"`
	DragonBalls        int64              `db:"dragon_balls"`
	WithdrewSei        float64            `db:"withdrew_sei"`
	AchievementClaimed bool               `db:"achievement_claimed"`
}

// Pool is a row of pools.
type Pool struct {
	ID             string    `db:"id"`
	StakedItem     string    `db:"staked_item"`
	RewardQuantity float64   `db:"reward_quantity"`
	StartTime      time.Time `db:"start_time"`
	EndTime        time.Time `db:"end_time"`
	Rp             float64   `db:"rp"`
	UserStaked     int64     `db:"user_staked"`
	BotStaked      int64     `db:"bot_staked"`
	TotalStaked    int64     `db:"total_staked"`
	Claimable      bool      `db:"claimable"`
}

// PoolStake is one stake action.
type PoolStake struct {
	PoolID   string    `db:"pool_id"`
	UserID   string    `db:"user_id"`
	Amount   int64     `db:"amount"`
	StakedAt time.Time `db:"staked_at"`
}

// PoolReward is one participant's share of one epoch.
type PoolReward struct {
	UserID string
	Points float64
	Amount float64
}

// SettleEpochParams is everything written when an epoch is settled.
type SettleEpochParams struct {
	PoolID     string
	EpochEnd   time.Time
	Reward     float64
	UserReward float64
	BotReward  float64
	Rewards    []PoolReward
	// Final marks the pool claimable in the same transaction.
	Final bool
}
