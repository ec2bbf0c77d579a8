package entity

import (
	"errors"
	"fmt"
	"time"
)

// Policy holds the per-saga retry and timeout configuration. It is handed to
// the orchestrator at construction and never read from ambient config while
// a transition is being computed.
type Policy struct {
	PaymentTimeout             time.Duration
	BookingConfirmationTimeout time.Duration
	CompensationTimeout        time.Duration

	MaxPaymentRetries             int
	MaxBookingConfirmationRetries int
	MaxCompensationRetries        int

	PaymentCallbackURL string
}

func DefaultPolicy() Policy {
	return Policy{
		PaymentTimeout:                5 * time.Minute,
		BookingConfirmationTimeout:    2 * time.Minute,
		CompensationTimeout:           10 * time.Minute,
		MaxPaymentRetries:             3,
		MaxBookingConfirmationRetries: 3,
		MaxCompensationRetries:        5,
	}
}

var ErrInvalidPolicy = errors.New("invalid saga policy")

func (p Policy) Validate() error {
	switch {
	case p.PaymentTimeout <= 0, p.BookingConfirmationTimeout <= 0, p.CompensationTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidPolicy)
	case p.MaxPaymentRetries < 0, p.MaxBookingConfirmationRetries < 0, p.MaxCompensationRetries < 0:
		return fmt.Errorf("%w: retry limits must not be negative", ErrInvalidPolicy)
	}
	return nil
}
