package message

import "time"

// Outbound command names.
const (
	InitiatePaymentCommand                     = "InitiatePayment"
	CancelPaymentCommand                       = "CancelPayment"
	InitiateRefundCommand                      = "InitiateRefund"
	ConfirmBookingCommand                      = "ConfirmBooking"
	CancelBookingCommand                       = "CancelBooking"
	SendBookingConfirmationNotificationCommand = "SendBookingConfirmationNotification"
	SendBookingFailureNotificationCommand      = "SendBookingFailureNotification"
)

// Command is emitted by the orchestrator for an external collaborator.
type Command interface {
	CommandName() string
	SagaID() string
}

type InitiatePayment struct {
	CorrelationID string `json:"correlation_id"`
	BookingID     string `json:"booking_id"`
	RecipientID   string `json:"recipient_id"`
	CustomerID    string `json:"customer_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	Description   string `json:"description"`
	CallbackURL   string `json:"callback_url,omitempty"`
	// Attempt starts at 1 and grows with every retry. Participants echo it on
	// PaymentFailed.
	Attempt       int    `json:"attempt"`
}

func (c InitiatePayment) CommandName() string { return InitiatePaymentCommand }
func (c InitiatePayment) SagaID() string      { return c.CorrelationID }

type CancelPayment struct {
	PaymentID     string `json:"payment_id"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

func (c CancelPayment) CommandName() string { return CancelPaymentCommand }
func (c CancelPayment) SagaID() string      { return c.CorrelationID }

type InitiateRefund struct {
	CorrelationID  string `json:"correlation_id"`
	PaymentID      string `json:"payment_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	RecipientEmail string `json:"recipient_email"`
	Reason         string `json:"reason"`
	Attempt        int    `json:"attempt"`
}

func (c InitiateRefund) CommandName() string { return InitiateRefundCommand }
func (c InitiateRefund) SagaID() string      { return c.CorrelationID }

type ConfirmBooking struct {
	CorrelationID    string `json:"correlation_id"`
	BookingID        string `json:"booking_id"`
	PaymentID        string `json:"payment_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Attempt          int    `json:"attempt"`
}

func (c ConfirmBooking) CommandName() string { return ConfirmBookingCommand }
func (c ConfirmBooking) SagaID() string      { return c.CorrelationID }

type CancelBooking struct {
	CorrelationID string `json:"correlation_id"`
	BookingID     string `json:"booking_id"`
	Reason        string `json:"reason"`
	Attempt       int    `json:"attempt"`
}

func (c CancelBooking) CommandName() string { return CancelBookingCommand }
func (c CancelBooking) SagaID() string      { return c.CorrelationID }

type SendBookingConfirmationNotification struct {
	CorrelationID      string     `json:"correlation_id"`
	BookingID          string     `json:"booking_id"`
	RecipientID        string     `json:"recipient_id"`
	CustomerEmail      string     `json:"customer_email"`
	ServiceDescription string     `json:"service_description"`
	ScheduledDate      *time.Time `json:"scheduled_date,omitempty"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	PaymentReference   string     `json:"payment_reference,omitempty"`
}

func (c SendBookingConfirmationNotification) CommandName() string {
	return SendBookingConfirmationNotificationCommand
}
func (c SendBookingConfirmationNotification) SagaID() string { return c.CorrelationID }

type SendBookingFailureNotification struct {
	CorrelationID string `json:"correlation_id"`
	BookingID     string `json:"booking_id"`
	CustomerEmail string `json:"customer_email"`
	Reason        string `json:"reason,omitempty"`
}

func (c SendBookingFailureNotification) CommandName() string {
	return SendBookingFailureNotificationCommand
}
func (c SendBookingFailureNotification) SagaID() string { return c.CorrelationID }
