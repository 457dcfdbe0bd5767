package election

import "colegio.org/internal/apperr"

// Forward-only state machine. COMPLETED is terminal and only reached by an administrator.
var validTransitions = map[Status][]Status{
	StatusDraft:     {StatusOpen},
	StatusOpen:      {StatusClosed},
	StatusClosed:    {StatusCompleted},
	StatusCompleted: {},
}

// ValidateTransition checks if a status change is allowed.
func ValidateTransition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return apperr.BadRequest("unknown current status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return apperr.BadRequest("cannot transition from %s to %s", from, to)
}

// AllowedTransitions returns the statuses reachable from current.
func AllowedTransitions(current Status) []Status {
	return validTransitions[current]
}
