package engine

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

func randDuration(rng *rand.Rand, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rng.Int64N(int64(limit)))
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ClockWindow fires once inside [Start, End) of the local day.
//
//	before the window: now + (start-now) + U(0, end-start)
//	inside the window: now + U(0, end-now)
//	after the window:  skip
type ClockWindow struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Location *time.Location
	// DevWindow, when positive, replaces the clock window with U(0, DevWindow).
	DevWindow time.Duration
}

func (w ClockWindow) First(now time.Time, job Job, rng *rand.Rand) (time.Time, bool) {
	if w.DevWindow > 0 {
		return now.Add(job.Offset + randDuration(rng, w.DevWindow)), true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	midnight := startOfDay(now, loc)
	start := midnight.Add(w.Start)
	end := midnight.Add(w.End)

	switch {
	case now.Before(start):
		return start.Add(randDuration(rng, end.Sub(start))), true
	case now.Before(end):
		return now.Add(randDuration(rng, end.Sub(now))), true
	default:
		return time.Time{}, false
	}
}

// RandomDelay fires at now + job.Offset + U(0, Max).
type RandomDelay struct {
	Max time.Duration
}

func (d RandomDelay) First(now time.Time, job Job, rng *rand.Rand) (time.Time, bool) {
	return now.Add(job.Offset + randDuration(rng, d.Max)), true
}

// SpeedDelay paces target-driven earning. Agents with a speed start within
// Initial and then wait Base/10 × (11-speed) × (1 + (1-u)) between runs, so a
// faster agent runs more often and the gap is never shorter than the
// deterministic part. Agents with only a target start within TargetWindow,
// immediately when the local day ends sooner than that.
type SpeedDelay struct {
	Base         time.Duration
	Initial      time.Duration
	TargetWindow time.Duration
	Location     *time.Location
}

// Job params read by SpeedDelay.
const (
	ParamSpeed  = "speed"
	ParamTarget = "target"
)

func jobInt(job Job, name string) int64 {
	v, err := strconv.ParseInt(job.Params[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (d SpeedDelay) First(now time.Time, job Job, rng *rand.Rand) (time.Time, bool) {
	speed := jobInt(job, ParamSpeed)
	if speed > 0 {
		return now.Add(randDuration(rng, d.Initial)), true
	}
	if jobInt(job, ParamTarget) <= 0 {
		return time.Time{}, false
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	endOfDay := startOfDay(now, loc).Add(24 * time.Hour)
	if endOfDay.Sub(now) < d.TargetWindow {
		return now, true
	}
	return now.Add(randDuration(rng, d.TargetWindow)), true
}

func (d SpeedDelay) Next(now time.Time, job Job, rng *rand.Rand) time.Time {
	speed := jobInt(job, ParamSpeed)
	if speed <= 0 {
		return now.Add(randDuration(rng, d.TargetWindow))
	}
	if speed > 10 {
		speed = 10
	}
	step := float64(d.Base) / 10 * float64(11-speed)
	factor := 1 + (1 - rng.Float64())
	return now.Add(time.Duration(math.Round(step * factor)))
}
