package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DioGolang/BookingSaga/pkg/events"
	carrier "github.com/DioGolang/BookingSaga/pkg/otel"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// Dispatcher publishes envelopes to the saga exchange, routed by message name.
// The channel runs in confirm mode and Dispatch waits for the broker ack.
type Dispatcher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewDispatcher(conn *amqp.Connection, exchange string) (*Dispatcher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Dispatcher{channel: ch, exchange: exchange}, nil
}

func (ed *Dispatcher) Dispatch(ctx context.Context, env events.Envelope) error {
	headers := amqp.Table{
		events.HeaderEventID:       env.ID,
		events.HeaderEventName:     env.Name,
		events.HeaderCorrelationID: env.CorrelationID,
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier.AMQPHeadersCarrier(headers))

	body, err := env.Marshal()
	if err != nil {
		return err
	}

	ed.mu.Lock()
	confirm, err := ed.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		ed.exchange,
		env.Name,
		false,
		false,
		amqp.Publishing{
			Headers:       headers,
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID,
			CorrelationId: env.CorrelationID,
			Type:          env.Name,
			Timestamp:     time.Now(),
			Body:          body,
		})
	ed.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Name, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", env.Name, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", env.Name)
	}
	return nil
}

func (ed *Dispatcher) Close() error {
	return ed.channel.Close()
}
