package settlement

import "errors"

var (
	// ErrNothingToSettle means the tab is already within tolerance of zero.
	ErrNothingToSettle = errors.New("nothing to settle")
	// ErrInvalidSelection means the request input does not describe a payable selection.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrAmountExceedsRemaining means the requested amount is larger than the open balance.
	ErrAmountExceedsRemaining = errors.New("amount exceeds remaining balance")
	// ErrItemAlreadySettled means another actor paid the item first.
	ErrItemAlreadySettled = errors.New("item already settled")
	// ErrInconsistentState means an aggregation invariant no longer holds.
	ErrInconsistentState = errors.New("inconsistent settlement state")
)
