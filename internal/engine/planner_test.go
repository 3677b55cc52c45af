package engine

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockWindowBeforeStart(t *testing.T) {
	w := ClockWindow{Start: 15 * time.Minute, End: 23*time.Hour + 45*time.Minute}
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)

	fireAt, ok := w.First(now, Job{}, rand.New(rand.NewPCG(1, 2)))
	require.True(t, ok)
	assert.False(t, fireAt.Before(time.Date(2026, 3, 10, 0, 15, 0, 0, time.UTC)))
}

func TestClockWindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	w := ClockWindow{Start: 15 * time.Minute, End: 23*time.Hour + 45*time.Minute, Location: loc}

	// 16:00 UTC is 00:00 the next local day, before the local window opens.
	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	fireAt, ok := w.First(now, Job{}, rand.New(rand.NewPCG(1, 2)))
	require.True(t, ok)
	local := fireAt.In(loc)
	assert.Equal(t, 11, local.Day())
	assert.False(t, local.Before(time.Date(2026, 3, 11, 0, 15, 0, 0, loc)))
}

func TestClockWindowDevOverride(t *testing.T) {
	w := ClockWindow{Start: 15 * time.Minute, End: 30 * time.Minute, DevWindow: time.Minute}
	late := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)

	fireAt, ok := w.First(late, Job{}, rand.New(rand.NewPCG(1, 2)))
	require.True(t, ok, "dev window ignores the clock window")
	assert.Less(t, fireAt.Sub(late), time.Minute)
}

func TestSpeedDelayFirst(t *testing.T) {
	d := SpeedDelay{Base: 30 * time.Minute, Initial: 10 * time.Second, TargetWindow: 10 * time.Minute}
	rng := rand.New(rand.NewPCG(1, 2))
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		now    time.Time
		params map[string]string
		ok     bool
		within time.Duration
	}{
		{"speed", noon, map[string]string{ParamSpeed: "4"}, true, 10 * time.Second},
		{"target only", noon, map[string]string{ParamTarget: "500"}, true, 10 * time.Minute},
		{"target near day end", time.Date(2026, 3, 10, 23, 55, 0, 0, time.UTC), map[string]string{ParamTarget: "500"}, true, 0},
		{"neither", noon, map[string]string{}, false, 0},
		{"garbage", noon, map[string]string{ParamSpeed: "fast"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fireAt, ok := d.First(tt.now, Job{Params: tt.params}, rng)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			gap := fireAt.Sub(tt.now)
			assert.GreaterOrEqual(t, gap, time.Duration(0))
			if tt.within == 0 {
				assert.Zero(t, gap)
			} else {
				assert.Less(t, gap, tt.within)
			}
		})
	}
}

func TestSpeedDelayFasterRunsMoreOften(t *testing.T) {
	d := SpeedDelay{Base: 30 * time.Minute}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	slow := d.Next(now, Job{Params: map[string]string{ParamSpeed: "1"}}, rand.New(rand.NewPCG(7, 7)))
	fast := d.Next(now, Job{Params: map[string]string{ParamSpeed: "10"}}, rand.New(rand.NewPCG(7, 7)))
	assert.True(t, fast.Before(slow))
	assert.LessOrEqual(t, fast.Sub(now), 6*time.Minute)
}
