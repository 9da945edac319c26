package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by the order store when a patch would violate
// the order id uniqueness constraint. Callers of the id allocator retry the
// allocation once on this error, then fail.
var ErrDuplicateID = errors.New("duplicate order id")

// AuthenticationError means an inbound webhook could not be authenticated.
// Always a 4xx; the engine never schedules a retry for these.
type AuthenticationError struct {
	Provider string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("webhook authentication failed for provider %s: %s", e.Provider, e.Reason)
}

// ValidationError means the payload was well-authenticated but malformed, or
// referenced an order that does not exist. Reported distinctly from
// authentication failures so operators can follow up manually.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InvalidTransitionError means the order is not in a state that permits the
// requested change. It carries both statuses so callers can render an
// "already processed" response instead of failing the whole request.
type InvalidTransitionError struct {
	OrderID   string
	Current   string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.Current, e.Attempted)
}

// StoreError wraps a persistence failure. Safe to retry from outside.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
