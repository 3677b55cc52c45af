package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const botAgentColumns = `id, wallet_address, balance, last_refreshed, behaviors, hq_level,
	land_slots, tree_slots, seya, dragon_balls, withdrew_sei, achievement_claimed`

func (q *Queries) GetBotAgent(ctx context.Context, id string) (BotAgent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+botAgentColumns+` FROM bot_agents WHERE id = $1`, id)
	if err != nil {
		return BotAgent{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[BotAgent])
}

func (q *Queries) ListBotAgentsByIDs(ctx context.Context, ids []string) ([]BotAgent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+botAgentColumns+` FROM bot_agents WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[BotAgent])
}

// ListBotAgentsByBehavior returns bots whose behavior flag is on. A behavior is
// either a bare boolean or an object with an "enabled" field.
func (q *Queries) ListBotAgentsByBehavior(ctx context.Context, behavior string) ([]BotAgent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+botAgentColumns+` FROM bot_agents
		WHERE behaviors -> $1 = 'true'::jsonb
		   OR behaviors -> $1 -> 'enabled' = 'true'::jsonb
		ORDER BY id`, behavior)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[BotAgent])
}

// ListBotHolders returns bots holding a positive amount of item.
func (q *Queries) ListBotHolders(ctx context.Context, item string) ([]BotAgent, error) {
	var column string
	switch item {
	case "seya":
		column = "seya"
	case "dragon_ball":
		column = "dragon_balls"
	default:
		return nil, fmt.Errorf("store: unknown stake item %q", item)
	}
	rows, err := q.db.Query(ctx, `SELECT `+botAgentColumns+` FROM bot_agents WHERE `+column+` > 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[BotAgent])
}

func (q *Queries) AddBotWithdrawn(ctx context.Context, id string, amount float64) error {
	_, err := q.db.Exec(ctx, `UPDATE bot_agents SET withdrew_sei = withdrew_sei + $2 WHERE id = $1`, id, amount)
	return err
}
