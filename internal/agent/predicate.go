package agent

// Predicate decides whether an agent qualifies for an action.
type Predicate func(Agent) bool

// All is satisfied when every predicate is. An empty list accepts everyone.
func All(preds ...Predicate) Predicate {
	return func(a Agent) bool {
		for _, p := range preds {
			if p != nil && !p(a) {
				return false
			}
		}
		return true
	}
}

// BalanceAbove accepts agents whose balance is strictly greater than floor.
func BalanceAbove(floor float64) Predicate {
	return func(a Agent) bool {
		return a.BalanceValue() > floor
	}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return func(a Agent) bool { return !p(a) }
}
