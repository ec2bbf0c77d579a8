package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type NATSConfig struct {
	URL           string
	Stream        string
	CommandPrefix string
	EventPrefix   string
	Durable       string
	AckWait       time.Duration
	MaxAckPending int
}

func (c *NATSConfig) defaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "BOOKING_SAGA"
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "saga.commands."
	}
	if c.EventPrefix == "" {
		c.EventPrefix = "saga.events."
	}
	if c.Durable == "" {
		c.Durable = "booking-saga-orchestrator"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 256
	}
}

// NATSTransport is the JetStream counterpart of the AMQP consumer and
// dispatcher: commands go to saga.commands.<name>, events arrive on
// saga.events.<name>.
type NATSTransport struct {
	cfg    NATSConfig
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger logger.Logger
}

func NewNATSTransport(cfg NATSConfig, log logger.Logger) (*NATSTransport, error) {
	cfg.defaults()
	conn, err := nats.Connect(cfg.URL, nats.Name("booking-saga"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	t := &NATSTransport{cfg: cfg, conn: conn, js: js, logger: log}
	if err := t.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *NATSTransport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = t.js.AddStream(&nats.StreamConfig{
		Name:      t.cfg.Stream,
		Subjects:  []string{t.cfg.CommandPrefix + ">", t.cfg.EventPrefix + ">"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	})
	return err
}

func (t *NATSTransport) Dispatch(ctx context.Context, env events.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(t.cfg.CommandPrefix + env.Name)
	msg.Data = body
	msg.Header.Set(events.HeaderEventID, env.ID)
	msg.Header.Set(events.HeaderEventName, env.Name)
	msg.Header.Set(events.HeaderCorrelationID, env.CorrelationID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	// MsgId lets JetStream drop duplicate publishes inside its window.
	if _, err := t.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(env.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", env.Name, err)
	}
	return nil
}

// Start subscribes the durable queue group to every event subject and blocks
// until ctx is done.
func (t *NATSTransport) Start(ctx context.Context, handler MessageHandler) error {
	sub, err := t.js.QueueSubscribe(t.cfg.EventPrefix+">", t.cfg.Durable, t.handle(ctx, handler),
		nats.ManualAck(),
		nats.Durable(t.cfg.Durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	t.logger.Info(ctx, "[*] Waiting for saga events", logger.String("subject", t.cfg.EventPrefix+">"))

	<-ctx.Done()
	return sub.Drain()
}

func (t *NATSTransport) handle(ctx context.Context, handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
		headers := make(map[string]interface{}, len(msg.Header))
		for k := range msg.Header {
			headers[strings.ToLower(k)] = msg.Header.Get(k)
		}

		err := handler(msgCtx, msg.Data, headers)
		switch {
		case err == nil:
			_ = msg.Ack()
		case IsPoison(err):
			t.logger.Error(msgCtx, "Dropping poison message",
				logger.String("subject", msg.Subject),
				logger.WithError(err))
			_ = msg.Term()
		default:
			t.logger.Warn(msgCtx, "Handler failed, redelivering",
				logger.String("subject", msg.Subject),
				logger.WithError(err))
			_ = msg.Nak()
		}
	}
}

func (t *NATSTransport) Ping() error {
	if t.conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats status %s", t.conn.Status())
	}
	return nil
}

func (t *NATSTransport) Close() {
	t.conn.Close()
}
