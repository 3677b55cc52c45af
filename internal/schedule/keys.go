package schedule

import (
	"strings"
	"time"
)

// DateLayout is the day component used in dated keys.
const DateLayout = "2006-01-02"

// Keys builds namespaced store keys. The zero value uses the "bot" prefix.
type Keys struct {
	Prefix string
}

func (k Keys) prefix() string {
	if k.Prefix == "" {
		return "bot"
	}
	return k.Prefix
}

func (k Keys) join(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, k.prefix())
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}

// Day formats t as a date key component in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

func (k Keys) LastReset(action string) string {
	return k.join(action, "last_reset")
}

func (k Keys) ResetGuard(action, day string) string {
	return k.join(action, day, "reset")
}

func (k Keys) Selected(action, day string) string {
	return k.join(action, day, "selected")
}

func (k Keys) Completed(action, day string) string {
	return k.join(action, day, "completed")
}

// Exhausted holds agents that must not be retried today: executor failures
// and agents found ineligible at fire time.
func (k Keys) Exhausted(action, day string) string {
	return k.join(action, day, "exhausted")
}

func (k Keys) Quota(action string) string {
	return k.join(action, "quota")
}

// Setting is a runtime override for an action parameter.
func (k Keys) Setting(action, name string) string {
	return k.join(action, "setting", name)
}

// Entry is the persisted fire instant for one agent, action and optional
// target. day is empty for actions that are not scoped to a day.
func (k Keys) Entry(agentID, action, target, day string) string {
	return k.join(agentID, action, target, day, "scheduled_time")
}

func (k Keys) Earned(agentID, action, day string) string {
	return k.join(agentID, action, day, "earned")
}

func (k Keys) Lock(agentID, action, target string) string {
	return "lock:" + k.join(agentID, action, target)
}

func (k Keys) PoolLock(poolID string) string {
	return "lock:" + k.join("pool", poolID, "distribute")
}
