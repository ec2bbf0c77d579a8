package entity

import "time"

type Status string

const (
	StatusCreated                   Status = "CREATED"
	StatusPaymentInitiated          Status = "PAYMENT_INITIATED"
	StatusPaymentCompleted          Status = "PAYMENT_COMPLETED"
	StatusPaymentFailed             Status = "PAYMENT_FAILED"
	StatusBookingConfirming         Status = "BOOKING_CONFIRMING"
	StatusBookingConfirmed          Status = "BOOKING_CONFIRMED"
	StatusBookingConfirmationFailed Status = "BOOKING_CONFIRMATION_FAILED"
	StatusCompensating              Status = "COMPENSATING"
	StatusCompleted                 Status = "COMPLETED"
	StatusCancelled                 Status = "CANCELLED"
	StatusFailed                    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Reversal is a bit set of compensating actions awaiting acknowledgement.
type Reversal int

const (
	ReversalRefund Reversal = 1 << iota
	ReversalCancelBooking
)

func (r Reversal) Has(flag Reversal) bool { return r&flag != 0 }

// BookingSaga is the persisted state of one booking-to-payment transaction.
// Version is owned by the store and bumped on every successful save.
type BookingSaga struct {
	CorrelationID string
	Status        Status

	BookingID   string
	PaymentID   string
	InvoiceID   string
	CustomerID  string
	CraftsmanID string

	CustomerEmail    string
	Description      string
	Address          string
	ScheduledDate    *time.Time
	PaymentReference string

	// Amount is expressed in minor currency units.
	Amount   int64
	Currency string

	PaymentTimeoutToken             string
	BookingConfirmationTimeoutToken string
	CompensationTimeoutToken        string

	PaymentRetryCount             int
	BookingConfirmationRetryCount int
	CompensationRetryCount        int

	PendingReversals      Reversal
	RefundIssued          bool
	CompensationCompleted bool
	FailureReason         string

	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaymentInitiatedAt *time.Time
	PaymentCompletedAt *time.Time
	BookingConfirmedAt *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	FailedAt           *time.Time

	Version int64
}

func (s *BookingSaga) Clone() *BookingSaga {
	if s == nil {
		return nil
	}
	c := *s
	c.ScheduledDate = cloneTime(s.ScheduledDate)
	c.PaymentInitiatedAt = cloneTime(s.PaymentInitiatedAt)
	c.PaymentCompletedAt = cloneTime(s.PaymentCompletedAt)
	c.BookingConfirmedAt = cloneTime(s.BookingConfirmedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.FailedAt = cloneTime(s.FailedAt)
	return &c
}

// ActiveToken returns the outstanding timeout token, if any.
func (s *BookingSaga) ActiveToken() string {
	switch {
	case s.PaymentTimeoutToken != "":
		return s.PaymentTimeoutToken
	case s.BookingConfirmationTimeoutToken != "":
		return s.BookingConfirmationTimeoutToken
	default:
		return s.CompensationTimeoutToken
	}
}

func (s *BookingSaga) PaymentRecorded() bool {
	return s.PaymentCompletedAt != nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// stamp sets a write-once milestone.
func stamp(field **time.Time, now time.Time) {
	if *field != nil {
		return
	}
	v := now
	*field = &v
}
