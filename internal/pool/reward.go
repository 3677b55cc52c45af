// Package pool settles staking pool epochs and keeps bot participation in
// running pools at each pool's target ratio.
package pool

import (
	"sort"
	"strings"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/internal/store"
)

// Stakeable items.
const (
	ItemSeya       = "seya"
	ItemDragonBall = "dragon_ball"
)

// BotPrefix marks bot account ids.
const BotPrefix = "b"

// IsBot reports whether userID belongs to a bot.
func IsBot(userID string) bool {
	return strings.HasPrefix(userID, BotPrefix)
}

// Points returns each participant's time-weighted stake at epochEnd. A stake
// counts amount × min(1, (epochEnd-stakedAt)/epochLen); stakes made at or
// after epochEnd do not count.
func Points(stakes []store.PoolStake, epochEnd time.Time, epochLen time.Duration) map[string]float64 {
	points := make(map[string]float64)
	if epochLen <= 0 {
		return points
	}
	for _, s := range stakes {
		if !s.StakedAt.Before(epochEnd) || s.Amount <= 0 {
			continue
		}
		weight := min(1, float64(epochEnd.Sub(s.StakedAt))/float64(epochLen))
		points[s.UserID] += float64(s.Amount) * weight
	}
	return points
}

// Split divides reward proportionally to points. Rewards are ordered by
// user id. A zero point total pays nobody.
func Split(points map[string]float64, reward float64) []store.PoolReward {
	var total float64
	for _, p := range points {
		total += p
	}
	if total <= 0 || reward <= 0 {
		return nil
	}
	out := make([]store.PoolReward, 0, len(points))
	for id, p := range points {
		if p <= 0 {
			continue
		}
		out = append(out, store.PoolReward{UserID: id, Points: p, Amount: p / total * reward})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Summary splits an epoch's payout between users and bots.
type Summary struct {
	Total        float64
	User         float64
	Bot          float64
	Participants int
}

func Summarize(rewards []store.PoolReward) Summary {
	var s Summary
	for _, r := range rewards {
		s.Total += r.Amount
		if IsBot(r.UserID) {
			s.Bot += r.Amount
		} else {
			s.User += r.Amount
		}
	}
	s.Participants = len(rewards)
	return s
}

// Epoch is one settlement period of a pool.
type Epoch struct {
	Index int
	End   time.Time
	Final bool
}

// Epochs lists every epoch of a pool running from start to end. The last
// epoch is cut short when the pool length is not a multiple of length.
func Epochs(start, end time.Time, length time.Duration) []Epoch {
	if length <= 0 || !end.After(start) {
		return nil
	}
	n := int((end.Sub(start) + length - 1) / length)
	out := make([]Epoch, n)
	for k := 1; k <= n; k++ {
		e := start.Add(time.Duration(k) * length)
		if e.After(end) {
			e = end
		}
		out[k-1] = Epoch{Index: k, End: e, Final: k == n}
	}
	return out
}
