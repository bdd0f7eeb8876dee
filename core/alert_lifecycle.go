package core

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an operator action would move an
// alert along an edge the state machine does not allow, including any
// transition out of a terminal state.
var ErrInvalidTransition = errors.New("invalid alert transition")

// validTransitions defines the allowed alert state machine:
// NEW -> INVESTIGATING -> {CONFIRMED, FALSE_POSITIVE}, CONFIRMED -> RESOLVED,
// with SUPPRESSED reachable from NEW and INVESTIGATING. RESOLVED,
// FALSE_POSITIVE and SUPPRESSED are terminal.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusNew:           {AlertStatusInvestigating, AlertStatusSuppressed},
	AlertStatusInvestigating: {AlertStatusConfirmed, AlertStatusFalsePositive, AlertStatusSuppressed},
	AlertStatusConfirmed:     {AlertStatusResolved},
	AlertStatusFalsePositive: {},
	AlertStatusResolved:      {},
	AlertStatusSuppressed:    {},
}

// TransitionTo validates and executes a state transition, leaving the alert
// unchanged on failure. UpdatedTime is maintained by the AlertStore.
func (a *Alert) TransitionTo(next AlertStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !a.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

// CanTransitionTo checks whether a transition is allowed without executing it.
func (a *Alert) CanTransitionTo(next AlertStatus) bool {
	for _, allowed := range validTransitions[a.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the alert is in a state with no outgoing
// transitions.
func (a *Alert) IsTerminal() bool {
	return len(validTransitions[a.Status]) == 0
}
