// Package window implements the once-per-day reset that decides which
// eligible agents act on a given day.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/schedule"
)

// SetTTL bounds the lifetime of the dated daily sets.
const SetTTL = 48 * time.Hour

const addChunk = 1000

// Plan describes one action's daily selection.
type Plan struct {
	Action string
	Quota  Quota
	// Eligible lists the day's population. With OrderFirst the order of the
	// returned ids decides who is picked.
	Eligible func(ctx context.Context) ([]string, error)
}

// Result summarizes an Ensure call.
type Result struct {
	Day      string
	Reset    bool
	Eligible int
	Selected int
}

// ManagerConfig configures a Manager. Zero values fall back to defaults.
type ManagerConfig struct {
	Keys     schedule.Keys
	Location *time.Location
	GuardTTL time.Duration
	Rand     *rand.Rand
	Logger   *slog.Logger
}

// Manager owns the daily selection of every action.
type Manager struct {
	store    schedule.Store
	keys     schedule.Keys
	loc      *time.Location
	guardTTL time.Duration
	log      *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager creates a manager over s.
func NewManager(s schedule.Store, cfg ManagerConfig) *Manager {
	m := &Manager{
		store:    s,
		keys:     cfg.Keys,
		loc:      cfg.Location,
		guardTTL: cfg.GuardTTL,
		log:      cfg.Logger,
		rng:      cfg.Rand,
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.guardTTL <= 0 {
		m.guardTTL = 10 * time.Minute
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return m
}

// Day returns the date key of t in the manager's location.
func (m *Manager) Day(t time.Time) string {
	return schedule.Day(t, m.loc)
}

// Ensure resets the action's selection if today's reset has not happened yet.
// Concurrent callers in any process agree on a single winner; losers return
// without touching the selection. A failed eligibility listing leaves the
// previous state in place so the next sweep can retry.
func (m *Manager) Ensure(ctx context.Context, p Plan, now time.Time) (Result, error) {
	day := m.Day(now)
	res := Result{Day: day}

	last, _, err := m.store.Get(ctx, m.keys.LastReset(p.Action))
	if err != nil {
		return res, fmt.Errorf("window: read reset marker: %w", err)
	}
	if last == day {
		return res, nil
	}

	guardKey := m.keys.ResetGuard(p.Action, day)
	token, ok, err := m.store.TryLock(ctx, guardKey, m.guardTTL)
	if err != nil {
		return res, fmt.Errorf("window: acquire reset guard: %w", err)
	}
	if !ok {
		return res, nil
	}

	ids, err := p.Eligible(ctx)
	if err != nil {
		if uerr := m.store.Unlock(ctx, guardKey, token); uerr != nil && !errors.Is(uerr, schedule.ErrNotLockOwner) {
			m.log.Warn("window: release reset guard", slog.String("action", p.Action), slog.String("error", uerr.Error()))
		}
		return res, fmt.Errorf("window: list eligible for %s: %w", p.Action, err)
	}

	stale := []string{m.keys.Selected(p.Action, day)}
	if last != "" {
		stale = append(stale,
			m.keys.Selected(p.Action, last),
			m.keys.Completed(p.Action, last),
			m.keys.Exhausted(p.Action, last),
		)
	}
	if err := m.store.Del(ctx, stale...); err != nil {
		return res, fmt.Errorf("window: clear previous day: %w", err)
	}

	q := m.withOverrides(ctx, p.Action, p.Quota)
	selected := m.pick(q, ids)

	selKey := m.keys.Selected(p.Action, day)
	for start := 0; start < len(selected); start += addChunk {
		end := min(start+addChunk, len(selected))
		if err := m.store.SAdd(ctx, selKey, selected[start:end]...); err != nil {
			return res, fmt.Errorf("window: store selection: %w", err)
		}
	}
	if len(selected) > 0 {
		if err := m.store.Expire(ctx, selKey, SetTTL); err != nil {
			return res, fmt.Errorf("window: expire selection: %w", err)
		}
	}
	if err := m.store.Set(ctx, m.keys.Quota(p.Action), strconv.Itoa(len(selected)), SetTTL); err != nil {
		return res, fmt.Errorf("window: store quota: %w", err)
	}
	// The marker goes last: a crash before this point is repaired by the next
	// sweep once the guard expires.
	if err := m.store.Set(ctx, m.keys.LastReset(p.Action), day, 0); err != nil {
		return res, fmt.Errorf("window: write reset marker: %w", err)
	}

	res.Reset = true
	res.Eligible = len(ids)
	res.Selected = len(selected)
	m.log.Info("window: daily selection reset",
		slog.String("action", p.Action),
		slog.String("day", day),
		slog.Int("eligible", res.Eligible),
		slog.Int("selected", res.Selected),
	)
	return res, nil
}

// Selected returns today's selection. It is empty until today's reset has
// completed.
func (m *Manager) Selected(ctx context.Context, action string, now time.Time) ([]string, error) {
	day := m.Day(now)
	last, _, err := m.store.Get(ctx, m.keys.LastReset(action))
	if err != nil {
		return nil, fmt.Errorf("window: read reset marker: %w", err)
	}
	if last != day {
		return nil, nil
	}
	ids, err := m.store.SMembers(ctx, m.keys.Selected(action, day))
	if err != nil {
		return nil, fmt.Errorf("window: read selection: %w", err)
	}
	return ids, nil
}

func (m *Manager) pick(q Quota, ids []string) []string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	k := q.Target(m.rng, len(ids))
	if q.Order == OrderFirst {
		out := make([]string, k)
		copy(out, ids[:k])
		return out
	}
	return Sample(m.rng, ids, k)
}

// withOverrides applies runtime settings stored next to the action's keys.
// Unparsable values are logged and ignored.
func (m *Manager) withOverrides(ctx context.Context, action string, q Quota) Quota {
	readFloat := func(name string, dst *float64) {
		v, ok, err := m.store.Get(ctx, m.keys.Setting(action, name))
		if err != nil || !ok {
			return
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			m.log.Warn("window: ignoring bad setting", slog.String("action", action), slog.String("setting", name), slog.String("value", v))
			return
		}
		*dst = f
	}
	readFloat("min_rate", &q.MinRate)
	readFloat("max_rate", &q.MaxRate)

	if v, ok, err := m.store.Get(ctx, m.keys.Setting(action, "count")); err == nil && ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			q.Count = n
		} else {
			m.log.Warn("window: ignoring bad setting", slog.String("action", action), slog.String("setting", "count"), slog.String("value", v))
		}
	}
	return q
}
