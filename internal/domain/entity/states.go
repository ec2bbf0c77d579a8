package entity

import (
	"fmt"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

type CreatedState struct{}

func (s *CreatedState) Status() Status { return StatusCreated }

func (s *CreatedState) Handle(t *transition, evt message.Event) error {
	if e, ok := evt.(message.CancelRequested); ok {
		return t.cancel(e.Reason, PointBeforePayment)
	}
	return ErrEventNotApplicable
}

type PaymentInitiatedState struct{}

func (s *PaymentInitiatedState) Status() Status { return StatusPaymentInitiated }

func (s *PaymentInitiatedState) Handle(t *transition, evt message.Event) error {
	switch e := evt.(type) {
	case message.PaymentCreated:
		if e.PaymentID == "" || e.PaymentID == t.saga.PaymentID {
			return ErrEventNotApplicable
		}
		if t.saga.PaymentID != "" {
			return ErrPaymentMismatch
		}
		t.saga.PaymentID = e.PaymentID
		return t.moveTo(StatusPaymentInitiated)
	case message.PaymentCompleted:
		if err := t.recordPayment(e); err != nil {
			return err
		}
		if err := t.moveTo(StatusPaymentCompleted); err != nil {
			return err
		}
		return (&PaymentCompletedState{}).enter(t)
	case message.PaymentFailed:
		if err := matchAttempt(e.Attempt, t.saga.PaymentRetryCount); err != nil {
			return err
		}
		if e.Kind == message.FailureTransient {
			return t.retryPayment(e.Reason)
		}
		return t.failPayment(e.Reason, PointPaymentDeclined)
	case message.TimeoutExpired:
		if err := t.matchTimeout(e, message.StepPayment); err != nil {
			return err
		}
		return t.retryPayment("payment timed out")
	case message.CancelRequested:
		return t.cancel(e.Reason, PointPaymentOutstanding)
	}
	return ErrEventNotApplicable
}

// PaymentCompletedState is never persisted: entering it immediately asks the
// booking service for confirmation.
type PaymentCompletedState struct{}

func (s *PaymentCompletedState) Status() Status { return StatusPaymentCompleted }

func (s *PaymentCompletedState) enter(t *transition) error {
	if err := t.moveTo(StatusBookingConfirming); err != nil {
		return err
	}
	t.emit(t.confirmBookingCommand())
	t.arm(message.StepBookingConfirmation)
	return nil
}

func (s *PaymentCompletedState) Handle(t *transition, evt message.Event) error {
	if e, ok := evt.(message.CancelRequested); ok {
		return t.cancel(e.Reason, PointBookingConfirmation)
	}
	return ErrEventNotApplicable
}

type BookingConfirmingState struct{}

func (s *BookingConfirmingState) Status() Status { return StatusBookingConfirming }

func (s *BookingConfirmingState) Handle(t *transition, evt message.Event) error {
	switch e := evt.(type) {
	case message.BookingConfirmed:
		return t.completeBooking()
	case message.BookingConfirmationFailed:
		if err := matchAttempt(e.Attempt, t.saga.BookingConfirmationRetryCount); err != nil {
			return err
		}
		if e.Kind == message.FailureBusiness {
			return t.failConfirmation(e.Reason)
		}
		return t.retryConfirmation(e.Reason)
	case message.TimeoutExpired:
		if err := t.matchTimeout(e, message.StepBookingConfirmation); err != nil {
			return err
		}
		return t.retryConfirmation("booking confirmation timed out")
	case message.CancelRequested:
		return t.cancel(e.Reason, PointBookingConfirmation)
	}
	return ErrEventNotApplicable
}

type CompensatingState struct{}

func (s *CompensatingState) Status() Status { return StatusCompensating }

func (s *CompensatingState) Handle(t *transition, evt message.Event) error {
	switch e := evt.(type) {
	case message.RefundCompleted:
		return t.acknowledge(ReversalRefund)
	case message.BookingCancelled:
		return t.acknowledge(ReversalCancelBooking)
	case message.RefundFailed:
		if err := matchAttempt(e.Attempt, t.saga.CompensationRetryCount); err != nil {
			return err
		}
		return t.retryCompensation(e.Kind, e.Reason, ReversalRefund)
	case message.BookingCancellationFailed:
		if err := matchAttempt(e.Attempt, t.saga.CompensationRetryCount); err != nil {
			return err
		}
		return t.retryCompensation(e.Kind, e.Reason, ReversalCancelBooking)
	case message.TimeoutExpired:
		if err := t.matchTimeout(e, message.StepCompensation); err != nil {
			return err
		}
		return t.retryCompensation(message.FailureTransient, "compensation timed out", t.saga.PendingReversals)
	case message.PaymentCompleted:
		return t.refundLatePayment(e)
	}
	return ErrEventNotApplicable
}

// passThroughState covers statuses a single transition walks through on its
// way to another one. They only show up persisted after manual repair.
type passThroughState struct {
	status Status
}

func (s *passThroughState) Status() Status { return s.status }

func (s *passThroughState) Handle(t *transition, evt message.Event) error {
	switch s.status {
	case StatusPaymentFailed:
		return t.compensate(PointPaymentDeclined)
	case StatusBookingConfirmationFailed:
		return t.compensate(PointBookingConfirmation)
	case StatusBookingConfirmed:
		t.emit(t.confirmationNotificationCommand())
		stamp(&t.saga.CompletedAt, t.env.Now)
		return t.moveTo(StatusCompleted)
	}
	return fmt.Errorf("%w: %s", ErrEventNotApplicable, s.status)
}

type terminalState struct {
	status Status
}

func (s *terminalState) Status() Status { return s.status }

func (s *terminalState) Handle(*transition, message.Event) error {
	return ErrSagaTerminal
}
