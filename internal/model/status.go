package model

import "fmt"

// Status enumerates the booking lifecycle. A booking follows the single
// forward path pending → assigned → started → reached → collected →
// delivered, with cancellation possible only from pending or assigned.
// delivered and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusStarted   Status = "started"
	StatusReached   Status = "reached"
	StatusCollected Status = "collected"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every lifecycle state in path order, cancelled last.
var AllStatuses = []Status{
	StatusPending, StatusAssigned, StatusStarted, StatusReached,
	StatusCollected, StatusDelivered, StatusCancelled,
}

// IsValidStatus reports whether s is one of the known lifecycle states.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusStarted, StatusReached,
		StatusCollected, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsChatActive reports whether two-way messaging is permitted in the given
// state. Chat opens when a partner is assigned and closes the moment the
// booking is delivered or cancelled.
func IsChatActive(s Status) bool {
	switch s {
	case StatusAssigned, StatusStarted, StatusReached, StatusCollected:
		return true
	}
	return false
}

// IsCancellable reports whether a booking in the given state may still be
// cancelled. Once the partner has started the trip the booking must run to
// completion.
func IsCancellable(s Status) bool {
	return s == StatusPending || s == StatusAssigned
}

// IsTerminal reports whether no transition leaves the given state.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// transitions maps each state to the set of states reachable from it.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusStarted, StatusCancelled},
	StatusStarted:   {StatusReached},
	StatusReached:   {StatusCollected},
	StatusCollected: {StatusDelivered},
	StatusDelivered: {},
	StatusCancelled: {},
}

// NextValidStatuses returns the states legally reachable from s. The
// returned slice must not be mutated by callers.
func NextValidStatuses(s Status) []Status {
	return transitions[s]
}

// InvalidTransitionError identifies a rejected status change by the
// offending pair of states.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid booking status transition %q -> %q", e.From, e.To)
}

// ValidateTransition checks whether moving from one state to another is
// legal. Re-applying the current state is accepted as a no-op so duplicate
// status updates from flaky clients do not fail; callers should treat
// from == to as "nothing to do". Any other pair outside the lifecycle path
// yields an *InvalidTransitionError.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, next := range NextValidStatuses(from) {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}
