package findings

import "github.com/accesslens/accesslens/internal/model"

// allowedTransitions lists the non-self edges of the review lifecycle.
// Closing statuses have none; only self-transitions are legal there.
var allowedTransitions = map[model.Status][]model.Status{
	model.StatusOpen: {
		model.StatusInReview, model.StatusEscalated,
		model.StatusResolved, model.StatusSuppressed, model.StatusFalsePositive,
	},
	model.StatusInReview: {
		model.StatusOpen, model.StatusEscalated,
		model.StatusResolved, model.StatusSuppressed, model.StatusFalsePositive,
	},
	model.StatusEscalated: {
		model.StatusInReview,
		model.StatusResolved, model.StatusSuppressed, model.StatusFalsePositive,
	},
	model.StatusResolved:      nil,
	model.StatusSuppressed:    nil,
	model.StatusFalsePositive: nil,
}

// CanTransition reports whether a finding in from may move to to. Both
// sides are normalised first, and a self-transition is always legal.
func CanTransition(from, to model.Status) bool {
	from, to = from.Normalize(), to.Normalize()
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s, excluding s itself.
func NextStatuses(s model.Status) []model.Status {
	next := allowedTransitions[s.Normalize()]
	out := make([]model.Status, len(next))
	copy(out, next)
	return out
}
