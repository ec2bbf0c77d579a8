package entity

import "errors"

var (
	ErrCorrelationIDRequired = errors.New("correlation id is required")
	ErrBookingIDRequired     = errors.New("booking id is required")
	ErrCustomerIDRequired    = errors.New("customer id is required")
	ErrAmountMustBePos       = errors.New("amount must be greater than zero")
	ErrCurrencyRequired      = errors.New("currency is required")
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEventNotApplicable     = errors.New("event not applicable to current state")
	ErrSagaTerminal           = errors.New("saga already in a terminal state")
	ErrStaleTimeout           = errors.New("timeout token is not the active one")
	ErrStaleFailure           = errors.New("failure reported for an attempt that is not current")
	ErrPaymentMismatch        = errors.New("payment id does not match")
)

// IsDiscard reports whether err means the input must be acknowledged and
// dropped without touching the instance.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrEventNotApplicable) ||
		errors.Is(err, ErrSagaTerminal) ||
		errors.Is(err, ErrStaleTimeout) ||
		errors.Is(err, ErrStaleFailure) ||
		errors.Is(err, ErrPaymentMismatch)
}
