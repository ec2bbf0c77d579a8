package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrEmptyEnvelope = errors.New("envelope name and id are required")

// Envelope is the wire shape shared by every command and event crossing the broker.
type Envelope struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(id, name, correlationID string, occurredAt time.Time, payload any) (Envelope, error) {
	if id == "" || name == "" {
		return Envelope{}, ErrEmptyEnvelope
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Envelope{
		ID:            id,
		Name:          name,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       raw,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.ID == "" || env.Name == "" {
		return Envelope{}, ErrEmptyEnvelope
	}
	return env, nil
}

// EventDispatcher delivers an envelope to the broker. Delivery is at-least-once.
type EventDispatcher interface {
	Dispatch(ctx context.Context, env Envelope) error
}

// Header keys set on every published message.
const (
	HeaderEventID       = "x-event-id"
	HeaderEventName     = "x-event-name"
	HeaderCorrelationID = "x-correlation-id"
)
