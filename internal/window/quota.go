package window

import (
	"math"
	"math/rand/v2"

	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// Quota modes.
const (
	ModeAll   = "all"
	ModeRate  = "rate"
	ModeCount = "count"
	ModeRange = "range"
)

// Selection orders.
const (
	OrderRandom = "random"
	OrderFirst  = "first"
)

// Quota decides how many eligible agents act on a given day.
type Quota struct {
	Mode      string
	MinRate   float64
	MaxRate   float64
	Count     int
	MinJitter float64
	MaxJitter float64
	MinCount  int
	MaxCount  int
	Order     string
}

// QuotaFromConfig converts an action's quota block.
func QuotaFromConfig(c config.QuotaConfig) Quota {
	return Quota{
		Mode:      c.Mode,
		MinRate:   c.MinRate,
		MaxRate:   c.MaxRate,
		Count:     c.Count,
		MinJitter: c.MinJitter,
		MaxJitter: c.MaxJitter,
		MinCount:  c.MinCount,
		MaxCount:  c.MaxCount,
		Order:     c.Order,
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

// Target returns the number of agents to select out of eligible. A computed
// target of zero or less selects everyone, as does a target above eligible.
func (q Quota) Target(rng *rand.Rand, eligible int) int {
	var k int
	switch q.Mode {
	case ModeRate:
		k = int(math.Round(uniform(rng, q.MinRate, q.MaxRate) * float64(eligible)))
	case ModeCount:
		k = int(math.Round(uniform(rng, q.MinJitter, q.MaxJitter) * float64(q.Count)))
	case ModeRange:
		k = q.MinCount
		if q.MaxCount > q.MinCount {
			k += rng.IntN(q.MaxCount - q.MinCount + 1)
		}
	default:
		return eligible
	}
	if k <= 0 || k > eligible {
		return eligible
	}
	return k
}

// Sample returns k distinct ids chosen uniformly at random. Only the last k
// positions of a copy of ids are shuffled, so the cost is O(k) swaps.
func Sample(rng *rand.Rand, ids []string, k int) []string {
	n := len(ids)
	if k >= n {
		out := make([]string, n)
		copy(out, ids)
		return out
	}
	if k <= 0 {
		return nil
	}
	work := make([]string, n)
	copy(work, ids)
	for i := n - 1; i >= n-k; i-- {
		j := rng.IntN(i + 1)
		work[i], work[j] = work[j], work[i]
	}
	return work[n-k:]
}
