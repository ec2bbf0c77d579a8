package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	carrier "github.com/DioGolang/BookingSaga/pkg/otel"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultExchange = "booking.saga"
	DefaultQueue    = "booking-saga.events"
)

type TopologyConfig struct {
	Exchange string
	Queue    string
	Prefetch int
}

func (c *TopologyConfig) defaults() {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 32
	}
}

type Consumer struct {
	Conn   *amqp.Connection
	Config TopologyConfig
	Logger logger.Logger
}

func NewConsumer(conn *amqp.Connection, cfg TopologyConfig, l logger.Logger) *Consumer {
	cfg.defaults()
	return &Consumer{Conn: conn, Config: cfg, Logger: l}
}

// Start consumes inbound saga events until ctx is cancelled or the channel
// closes. Deliveries are acked on success, dropped when poison and requeued
// otherwise.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	ch, err := c.Conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := setupTopology(ch, c.Config); err != nil {
		return fmt.Errorf("error when configuring topology: %w", err)
	}
	if err := ch.Qos(c.Config.Prefetch, 0, false); err != nil {
		return err
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		c.Config.Queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.Logger.Info(ctx, "[*] Waiting for saga events", logger.String("queue", c.Config.Queue))

	tracer := otel.GetTracerProvider().Tracer("booking-saga/consumer")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			c.deliver(ctx, tracer, d, handler)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, tracer trace.Tracer, d amqp.Delivery, handler MessageHandler) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier.AMQPHeadersCarrier(d.Headers))
	ctx, span := tracer.Start(ctx, "ConsumeSagaEvent", trace.WithAttributes(
		attribute.String("queue.name", c.Config.Queue),
		attribute.String("messaging.message_id", d.MessageId),
		attribute.String("messaging.routing_key", d.RoutingKey),
	))
	defer span.End()

	headers := map[string]interface{}(d.Headers)
	if headers == nil {
		headers = map[string]interface{}{}
	}
	if _, ok := headers[events.HeaderEventID]; !ok && d.MessageId != "" {
		headers[events.HeaderEventID] = d.MessageId
	}

	err := handler(ctx, d.Body, headers)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case IsPoison(err):
		c.Logger.Error(ctx, "Dropping poison message",
			logger.String("routing_key", d.RoutingKey),
			logger.WithError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "poison message")
		_ = d.Nack(false, false)
	default:
		c.Logger.Warn(ctx, "Handler failed, requeueing",
			logger.String("routing_key", d.RoutingKey),
			logger.WithError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = d.Nack(false, true)
	}
}

// setupTopology declares the topic exchange and binds the event queue to
// every inbound event name.
func setupTopology(ch *amqp.Channel, cfg TopologyConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	for _, name := range message.EventNames() {
		if err := ch.QueueBind(cfg.Queue, name, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}
