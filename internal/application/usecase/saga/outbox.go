package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/events"
	pkgotel "github.com/DioGolang/BookingSaga/pkg/otel"
)

// buildOutbox turns a decision's side effects into outbox records. Stale
// timers are cancelled first, then commands go out in emission order, then
// the new timer is armed.
func buildOutbox(ctx context.Context, d *entity.Decision, version int64, now time.Time, newID func() string) ([]outbound.OutboxRecord, error) {
	trace := pkgotel.ExtractContextToJSON(ctx)
	correlationID := d.Saga.CorrelationID
	records := make([]outbound.OutboxRecord, 0, len(d.Cancel)+len(d.Commands)+len(d.Schedule))

	add := func(topic, name string, payload []byte) {
		records = append(records, outbound.OutboxRecord{
			ID:            newID(),
			CorrelationID: correlationID,
			SagaVersion:   version,
			Seq:           len(records),
			Topic:         topic,
			Name:          name,
			Payload:       payload,
			TraceContext:  trace,
			CreatedAt:     now,
		})
	}

	for _, token := range d.Cancel {
		payload, err := json.Marshal(message.Timeout{Token: token, CorrelationID: correlationID})
		if err != nil {
			return nil, err
		}
		add(outbound.TopicTimeoutCancel, "CancelTimeout", payload)
	}

	for _, cmd := range d.Commands {
		env, err := events.NewEnvelope(newID(), cmd.CommandName(), correlationID, now, cmd)
		if err != nil {
			return nil, err
		}
		payload, err := env.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal %s envelope: %w", cmd.CommandName(), err)
		}
		add(outbound.TopicCommand, cmd.CommandName(), payload)
	}

	for _, t := range d.Schedule {
		payload, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		add(outbound.TopicTimeoutSchedule, t.Expired().EventName(), payload)
	}

	return records, nil
}
