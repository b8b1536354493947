package market

import "errors"

var (
	// ErrOrderNotFound is returned when an order id does not resolve.
	ErrOrderNotFound = errors.New("order not found")
	// ErrMatchNotFound is returned when a match id does not resolve.
	ErrMatchNotFound = errors.New("match not found")
	// ErrAlreadyTerminal is returned when cancelling an order that has
	// already reached filled, cancelled, rejected or expired.
	ErrAlreadyTerminal = errors.New("order already in terminal state")
	// ErrSourceBusy is returned when the per-source owner could not accept
	// the request within the bounded wait. Callers should retry.
	ErrSourceBusy = errors.New("energy source busy, retry")
	// ErrEngineStopped is returned for requests after shutdown began.
	ErrEngineStopped = errors.New("engine stopped")
	// ErrDuplicateReference is returned when an external reference was
	// already used for another order.
	ErrDuplicateReference = errors.New("duplicate external reference")
)

// RejectionError carries the admission or matching-time rejection reason for
// an order that was persisted as REJECTED.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "order rejected: " + e.Reason }

// Rejected wraps a rejection reason as an error.
func Rejected(reason string) error { return &RejectionError{Reason: reason} }

// RejectionReasonOf extracts the rejection reason, or "" when err is not a
// rejection.
func RejectionReasonOf(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
