package orders

import "errors"

type Status string

const (
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var validNext = map[Status]map[Status]bool{
	StatusReady:     {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal is true for statuses with no outgoing transition.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// CheckTransition validates a status change coming from a replace. Keeping the
// same status is always allowed.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return ErrInvalidTransition
	}
	if from == to || CanTransition(from, to) {
		return nil
	}
	return ErrInvalidTransition
}

// Complete moves o to Delivered. It reports false and leaves o untouched when
// the order is already terminal.
func Complete(o *Order) bool {
	return moveTo(o, StatusDelivered)
}

// Cancel moves o to Cancelled, with the same guard as Complete.
func Cancel(o *Order) bool {
	return moveTo(o, StatusCancelled)
}

// Only a known, non-terminal status moves.
func moveTo(o *Order, to Status) bool {
	if !o.Status.Valid() || o.Status.IsTerminal() {
		return false
	}
	o.Status = to
	return true
}
