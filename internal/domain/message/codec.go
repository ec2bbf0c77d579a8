package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DioGolang/BookingSaga/pkg/events"
)

var ErrUnknownMessage = errors.New("unknown message name")

var eventFactories = map[string]func() Event{
	BookingRequestedEvent:          func() Event { return &BookingRequested{} },
	PaymentCreatedEvent:            func() Event { return &PaymentCreated{} },
	PaymentCompletedEvent:          func() Event { return &PaymentCompleted{} },
	PaymentFailedEvent:             func() Event { return &PaymentFailed{} },
	BookingConfirmedEvent:          func() Event { return &BookingConfirmed{} },
	BookingConfirmationFailedEvent: func() Event { return &BookingConfirmationFailed{} },
	CancelRequestedEvent:           func() Event { return &CancelRequested{} },
	RefundCompletedEvent:           func() Event { return &RefundCompleted{} },
	RefundFailedEvent:              func() Event { return &RefundFailed{} },
	BookingCancelledEvent:          func() Event { return &BookingCancelled{} },
	BookingCancellationFailedEvent: func() Event { return &BookingCancellationFailed{} },

	PaymentTimeoutExpiredEvent:             func() Event { return &TimeoutExpired{Step: StepPayment} },
	BookingConfirmationTimeoutExpiredEvent: func() Event { return &TimeoutExpired{Step: StepBookingConfirmation} },
	CompensationTimeoutExpiredEvent:        func() Event { return &TimeoutExpired{Step: StepCompensation} },
}

var commandFactories = map[string]func() Command{
	InitiatePaymentCommand:                     func() Command { return &InitiatePayment{} },
	CancelPaymentCommand:                       func() Command { return &CancelPayment{} },
	InitiateRefundCommand:                      func() Command { return &InitiateRefund{} },
	ConfirmBookingCommand:                      func() Command { return &ConfirmBooking{} },
	CancelBookingCommand:                       func() Command { return &CancelBooking{} },
	SendBookingConfirmationNotificationCommand: func() Command { return &SendBookingConfirmationNotification{} },
	SendBookingFailureNotificationCommand:      func() Command { return &SendBookingFailureNotification{} },
}

// EventNames lists every inbound event name, used to bind broker queues.
func EventNames() []string {
	names := make([]string, 0, len(eventFactories))
	for name := range eventFactories {
		names = append(names, name)
	}
	return names
}

// DecodeEvent turns an envelope into its typed event value.
func DecodeEvent(env events.Envelope) (Event, error) {
	factory, ok := eventFactories[env.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Name)
	}
	ptr := factory()
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	evt := deref(ptr)
	if evt.SagaID() == "" {
		evt = withCorrelation(evt, env.CorrelationID)
	}
	return evt, nil
}

// DecodeCommand is the collaborator-side counterpart of DecodeEvent.
func DecodeCommand(env events.Envelope) (Command, error) {
	factory, ok := commandFactories[env.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Name)
	}
	ptr := factory()
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	switch c := ptr.(type) {
	case *InitiatePayment:
		return *c, nil
	case *CancelPayment:
		return *c, nil
	case *InitiateRefund:
		return *c, nil
	case *ConfirmBooking:
		return *c, nil
	case *CancelBooking:
		return *c, nil
	case *SendBookingConfirmationNotification:
		return *c, nil
	case *SendBookingFailureNotification:
		return *c, nil
	}
	return ptr, nil
}

// deref hands value types to the state machine, which switches on them.
func deref(evt Event) Event {
	switch e := evt.(type) {
	case *BookingRequested:
		return *e
	case *PaymentCreated:
		return *e
	case *PaymentCompleted:
		return *e
	case *PaymentFailed:
		return *e
	case *BookingConfirmed:
		return *e
	case *BookingConfirmationFailed:
		return *e
	case *CancelRequested:
		return *e
	case *RefundCompleted:
		return *e
	case *RefundFailed:
		return *e
	case *BookingCancelled:
		return *e
	case *BookingCancellationFailed:
		return *e
	case *TimeoutExpired:
		return *e
	}
	return evt
}

func withCorrelation(evt Event, id string) Event {
	switch e := evt.(type) {
	case BookingRequested:
		e.CorrelationID = id
		return e
	case PaymentCreated:
		e.CorrelationID = id
		return e
	case PaymentCompleted:
		e.CorrelationID = id
		return e
	case PaymentFailed:
		e.CorrelationID = id
		return e
	case BookingConfirmed:
		e.CorrelationID = id
		return e
	case BookingConfirmationFailed:
		e.CorrelationID = id
		return e
	case CancelRequested:
		e.CorrelationID = id
		return e
	case RefundCompleted:
		e.CorrelationID = id
		return e
	case RefundFailed:
		e.CorrelationID = id
		return e
	case BookingCancelled:
		e.CorrelationID = id
		return e
	case BookingCancellationFailed:
		e.CorrelationID = id
		return e
	case TimeoutExpired:
		e.CorrelationID = id
		return e
	}
	return evt
}
