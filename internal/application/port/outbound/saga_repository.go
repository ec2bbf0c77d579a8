package outbound

import (
	"context"
	"errors"

	"github.com/DioGolang/BookingSaga/internal/domain/entity"
)

var (
	ErrSagaNotFound    = errors.New("saga not found")
	ErrVersionConflict = errors.New("saga version conflict")
)

// SagaRepository is the versioned saga store. Save is optimistic: it fails
// with ErrVersionConflict unless the stored version equals expectedVersion
// (0 means the row must not exist yet). The outbox records are written in
// the same transaction as the saga row.
type SagaRepository interface {
	Load(ctx context.Context, correlationID string) (*entity.BookingSaga, error)
	Save(ctx context.Context, saga *entity.BookingSaga, expectedVersion int64, outbox []OutboxRecord) error
	FindByStatus(ctx context.Context, status entity.Status, limit int) ([]*entity.BookingSaga, error)
}
