package entity

import "github.com/DioGolang/BookingSaga/internal/domain/message"

// SagaState handles the inputs accepted while the saga sits in one status.
type SagaState interface {
	Status() Status
	Handle(t *transition, evt message.Event) error
}

var validTransitions = map[Status][]Status{
	StatusCreated:                   {StatusPaymentInitiated, StatusCompensating},
	StatusPaymentInitiated:          {StatusPaymentInitiated, StatusPaymentCompleted, StatusPaymentFailed, StatusCompensating},
	StatusPaymentCompleted:          {StatusBookingConfirming, StatusCompensating},
	StatusPaymentFailed:             {StatusCompensating},
	StatusBookingConfirming:         {StatusBookingConfirming, StatusBookingConfirmed, StatusBookingConfirmationFailed, StatusCompensating},
	StatusBookingConfirmed:          {StatusCompleted},
	StatusBookingConfirmationFailed: {StatusCompensating},
	StatusCompensating:              {StatusCompensating, StatusCancelled, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func stateFor(s Status) SagaState {
	switch s {
	case StatusCreated:
		return &CreatedState{}
	case StatusPaymentInitiated:
		return &PaymentInitiatedState{}
	case StatusPaymentCompleted:
		return &PaymentCompletedState{}
	case StatusBookingConfirming:
		return &BookingConfirmingState{}
	case StatusCompensating:
		return &CompensatingState{}
	case StatusPaymentFailed, StatusBookingConfirmed, StatusBookingConfirmationFailed:
		return &passThroughState{status: s}
	default:
		return &terminalState{status: s}
	}
}
