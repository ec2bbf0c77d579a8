package message

import "time"

// Inbound event names.
const (
	BookingRequestedEvent          = "BookingRequested"
	PaymentCreatedEvent            = "PaymentCreated"
	PaymentCompletedEvent          = "PaymentCompleted"
	PaymentFailedEvent             = "PaymentFailed"
	BookingConfirmedEvent          = "BookingConfirmed"
	BookingConfirmationFailedEvent = "BookingConfirmationFailed"
	CancelRequestedEvent           = "CancelRequested"
	RefundCompletedEvent           = "RefundCompleted"
	RefundFailedEvent              = "RefundFailed"
	BookingCancelledEvent          = "BookingCancelled"
	BookingCancellationFailedEvent = "BookingCancellationFailed"

	PaymentTimeoutExpiredEvent             = "PaymentTimeoutExpired"
	BookingConfirmationTimeoutExpiredEvent = "BookingConfirmationTimeoutExpired"
	CompensationTimeoutExpiredEvent        = "CompensationTimeoutExpired"
)

// FailureKind tags a collaborator failure so the transition table can tell
// retryable problems from business rejections.
type FailureKind string

const (
	FailureUnspecified FailureKind = ""
	FailureTransient   FailureKind = "transient"
	FailureBusiness    FailureKind = "business"
)

// Step identifies a timeout-guarded saga step.
type Step string

const (
	StepPayment             Step = "payment"
	StepBookingConfirmation Step = "booking_confirmation"
	StepCompensation        Step = "compensation"
)

// Event is an orchestrator input.
type Event interface {
	EventName() string
	SagaID() string
}

type BookingRequested struct {
	CorrelationID string     `json:"correlation_id"`
	BookingID     string     `json:"booking_id"`
	CraftsmanID   string     `json:"craftsman_id"`
	CustomerID    string     `json:"customer_id"`
	InvoiceID     string     `json:"invoice_id,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Address       string     `json:"address"`
	Description   string     `json:"description"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
}

func (e BookingRequested) EventName() string { return BookingRequestedEvent }
func (e BookingRequested) SagaID() string    { return e.CorrelationID }

// PaymentCreated is raised when the payment service accepts InitiatePayment
// and assigns its own payment id.
type PaymentCreated struct {
	CorrelationID string `json:"correlation_id"`
	PaymentID     string `json:"payment_id"`
}

func (e PaymentCreated) EventName() string { return PaymentCreatedEvent }
func (e PaymentCreated) SagaID() string    { return e.CorrelationID }

type PaymentCompleted struct {
	CorrelationID string `json:"correlation_id"`
	PaymentID     string `json:"payment_id"`
	Reference     string `json:"reference"`
}

func (e PaymentCompleted) EventName() string { return PaymentCompletedEvent }
func (e PaymentCompleted) SagaID() string    { return e.CorrelationID }

type PaymentFailed struct {
	CorrelationID string      `json:"correlation_id"`
	Reason        string      `json:"reason"`
	Kind          FailureKind `json:"kind,omitempty"`
	// Attempt echoes the attempt of the command that failed. Zero means the
	// participant did not say.
	Attempt       int         `json:"attempt,omitempty"`
}

func (e PaymentFailed) EventName() string { return PaymentFailedEvent }
func (e PaymentFailed) SagaID() string    { return e.CorrelationID }

type BookingConfirmed struct {
	CorrelationID string `json:"correlation_id"`
}

func (e BookingConfirmed) EventName() string { return BookingConfirmedEvent }
func (e BookingConfirmed) SagaID() string    { return e.CorrelationID }

type BookingConfirmationFailed struct {
	CorrelationID string      `json:"correlation_id"`
	Reason        string      `json:"reason"`
	Kind          FailureKind `json:"kind,omitempty"`
	Attempt       int         `json:"attempt,omitempty"`
}

func (e BookingConfirmationFailed) EventName() string { return BookingConfirmationFailedEvent }
func (e BookingConfirmationFailed) SagaID() string    { return e.CorrelationID }

// CancelRequested is the customer or operator initiated cancellation.
type CancelRequested struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

func (e CancelRequested) EventName() string { return CancelRequestedEvent }
func (e CancelRequested) SagaID() string    { return e.CorrelationID }

type RefundCompleted struct {
	CorrelationID string `json:"correlation_id"`
	RefundID      string `json:"refund_id,omitempty"`
}

func (e RefundCompleted) EventName() string { return RefundCompletedEvent }
func (e RefundCompleted) SagaID() string    { return e.CorrelationID }

type RefundFailed struct {
	CorrelationID string      `json:"correlation_id"`
	Reason        string      `json:"reason"`
	Kind          FailureKind `json:"kind,omitempty"`
	Attempt       int         `json:"attempt,omitempty"`
}

func (e RefundFailed) EventName() string { return RefundFailedEvent }
func (e RefundFailed) SagaID() string    { return e.CorrelationID }

type BookingCancelled struct {
	CorrelationID string `json:"correlation_id"`
}

func (e BookingCancelled) EventName() string { return BookingCancelledEvent }
func (e BookingCancelled) SagaID() string    { return e.CorrelationID }

type BookingCancellationFailed struct {
	CorrelationID string      `json:"correlation_id"`
	Reason        string      `json:"reason"`
	Kind          FailureKind `json:"kind,omitempty"`
	Attempt       int         `json:"attempt,omitempty"`
}

func (e BookingCancellationFailed) EventName() string { return BookingCancellationFailedEvent }
func (e BookingCancellationFailed) SagaID() string    { return e.CorrelationID }

// TimeoutExpired is fired by the scheduler when a deadline elapses.
type TimeoutExpired struct {
	CorrelationID string `json:"correlation_id"`
	Token         string `json:"token"`
	Step          Step   `json:"step"`
}

func (e TimeoutExpired) EventName() string {
	switch e.Step {
	case StepPayment:
		return PaymentTimeoutExpiredEvent
	case StepBookingConfirmation:
		return BookingConfirmationTimeoutExpiredEvent
	default:
		return CompensationTimeoutExpiredEvent
	}
}

func (e TimeoutExpired) SagaID() string { return e.CorrelationID }

// Timeout is a request to arm a deadline. Tokens are minted by the
// orchestrator so the persisted instance owns them before scheduling happens.
type Timeout struct {
	Token         string    `json:"token"`
	CorrelationID string    `json:"correlation_id"`
	Step          Step      `json:"step"`
	Deadline      time.Time `json:"deadline"`
}

func (t Timeout) Expired() TimeoutExpired {
	return TimeoutExpired{CorrelationID: t.CorrelationID, Token: t.Token, Step: t.Step}
}
