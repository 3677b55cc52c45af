// Package store provides the Postgres access layer for bot agents and staking pools.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Queries holds the hand-written statements. It runs against a pool or a tx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Store wraps Queries and provides transaction support.
type Store struct {
	pool DBTX
	*Queries
}

// NewStore creates a new Store wrapping the given connection pool.
func NewStore(pool DBTX) *Store {
	return &Store{
		pool:    pool,
		Queries: New(pool),
	}
}

// Tx executes fn inside a database transaction. If fn returns an error the
// transaction is rolled back; otherwise it is committed.
func (s *Store) Tx(ctx context.Context, fn func(q *Queries) error) error {
	// If the pool is already a tx (e.g. nested), we just run fn directly.
	beginner, ok := s.pool.(interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	})
	if !ok {
		return fn(s.Queries)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AgentStore defines the bot agent queries the registry depends on.
type AgentStore interface {
	GetBotAgent(ctx context.Context, id string) (BotAgent, error)
	ListBotAgentsByIDs(ctx context.Context, ids []string) ([]BotAgent, error)
	ListBotAgentsByBehavior(ctx context.Context, behavior string) ([]BotAgent, error)
	ListBotHolders(ctx context.Context, item string) ([]BotAgent, error)
	AddBotWithdrawn(ctx context.Context, id string, amount float64) error
}

// PoolStore defines the staking pool queries used by reward settlement and
// stake balancing.
type PoolStore interface {
	ListUnsettledPools(ctx context.Context, now time.Time) ([]Pool, error)
	ListRunningPools(ctx context.Context, now time.Time) ([]Pool, error)
	ListPoolStakes(ctx context.Context, poolID string, before time.Time) ([]PoolStake, error)
	LastPoolEpoch(ctx context.Context, poolID string) (time.Time, bool, error)
	SettleEpoch(ctx context.Context, arg SettleEpochParams) (bool, error)
}

var (
	_ AgentStore = (*Store)(nil)
	_ PoolStore  = (*Store)(nil)
)
