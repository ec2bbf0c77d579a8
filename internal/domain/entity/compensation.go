package entity

import "github.com/DioGolang/BookingSaga/internal/domain/message"

// FailurePoint names where the forward path stopped.
type FailurePoint int

const (
	PointBeforePayment FailurePoint = iota
	PointPaymentDeclined
	PointPaymentOutstanding
	PointBookingConfirmation
)

func (p FailurePoint) String() string {
	switch p {
	case PointBeforePayment:
		return "before_payment"
	case PointPaymentDeclined:
		return "payment_declined"
	case PointPaymentOutstanding:
		return "payment_outstanding"
	case PointBookingConfirmation:
		return "booking_confirmation"
	}
	return "unknown"
}

// CompensationPlan lists the reversing commands in emission order and the
// reversals whose acknowledgement completes the compensation.
type CompensationPlan struct {
	Commands []message.Command
	Pending  Reversal
}

// PlanCompensation is a pure function of the failure point and a snapshot.
// A captured payment is refunded before the booking cancellation; a payment
// still outstanding is cancelled so it cannot be captured later.
func PlanCompensation(point FailurePoint, saga BookingSaga) CompensationPlan {
	var plan CompensationPlan

	switch {
	case saga.PaymentRecorded():
		if !saga.RefundIssued {
			plan.Commands = append(plan.Commands, refundCommand(saga))
			plan.Pending |= ReversalRefund
		}
	case point == PointPaymentOutstanding && saga.PaymentID != "":
		plan.Commands = append(plan.Commands, message.CancelPayment{
			PaymentID:     saga.PaymentID,
			Reason:        saga.FailureReason,
			CorrelationID: saga.CorrelationID,
		})
	}

	plan.Commands = append(plan.Commands, cancelBookingCommand(saga))
	plan.Pending |= ReversalCancelBooking
	return plan
}

func refundCommand(saga BookingSaga) message.InitiateRefund {
	return message.InitiateRefund{
		CorrelationID:  saga.CorrelationID,
		PaymentID:      saga.PaymentID,
		Amount:         saga.Amount,
		Currency:       saga.Currency,
		RecipientEmail: saga.CustomerEmail,
		Reason:         saga.FailureReason,
		Attempt:        saga.CompensationRetryCount + 1,
	}
}

func cancelBookingCommand(saga BookingSaga) message.CancelBooking {
	return message.CancelBooking{
		CorrelationID: saga.CorrelationID,
		BookingID:     saga.BookingID,
		Reason:        saga.FailureReason,
		Attempt:       saga.CompensationRetryCount + 1,
	}
}
