package event

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
)

type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// WrapIdempotency drops redeliveries of an event id already handled within
// ttl. The orchestrator absorbs duplicates on its own, so this only saves a
// store round trip.
func WrapIdempotency(
	log logger.Logger,
	m metrics.Metrics,
	store IdempotencyStore,
	handlerName string,
	ttl time.Duration,
	next MessageHandler,
) MessageHandler {

	return func(ctx context.Context, msg []byte, headers map[string]interface{}) error {
		eventID := headerString(headers, events.HeaderEventID)
		if eventID == "" {
			hash := sha256.Sum256(msg)
			eventID = fmt.Sprintf("hash:%x", hash)
		}

		key := fmt.Sprintf("dedup:%s:%s", handlerName, eventID)

		saved, err := store.SetNX(ctx, key, "processing", ttl)
		if err != nil {
			// Fail closed: the broker redelivers once the store is back.
			log.Error(ctx, "Redis unavailable for idempotency check",
				logger.WithError(err))
			return fmt.Errorf("idempotency store unavailable: %w", err)
		}

		if !saved {
			log.Info(ctx, "Duplicate event dropped by Idempotency Guard",
				logger.String("handler", handlerName),
				logger.String("event_id", eventID),
			)
			m.IncDuplicateDropped(handlerName)
			return nil
		}

		err = next(ctx, msg, headers)
		if err != nil && !IsPoison(err) {
			log.Warn(ctx, "Handler failed, releasing idempotency key for retry",
				logger.String("key", key),
				logger.WithError(err),
			)
			if delErr := store.Del(ctx, key); delErr != nil {
				log.Error(ctx, "Failed to release idempotency key",
					logger.String("key", key),
					logger.WithError(delErr),
				)
			}
		}

		return err
	}
}
