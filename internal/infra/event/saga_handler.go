package event

import (
	"context"
	"fmt"

	"github.com/DioGolang/BookingSaga/internal/application/usecase/saga"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
)

// NewSagaMessageHandler decodes an inbound envelope and feeds it to the
// orchestrator. Only infrastructure failures come back as retryable errors.
func NewSagaMessageHandler(uc saga.HandleUseCase, log logger.Logger) MessageHandler {
	return func(ctx context.Context, msg []byte, headers map[string]interface{}) error {
		env, err := events.UnmarshalEnvelope(msg)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}
		if env.CorrelationID == "" {
			env.CorrelationID = headerString(headers, events.HeaderCorrelationID)
		}

		evt, err := message.DecodeEvent(env)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}

		res, err := uc.Handle(ctx, evt)
		if err != nil {
			return err
		}
		if res.Ignored {
			log.Debug(ctx, "Event acknowledged without effect",
				logger.CorrelationID(evt.SagaID()),
				logger.String("event", env.Name),
				logger.String("reason", res.Reason))
		}
		return nil
	}
}
