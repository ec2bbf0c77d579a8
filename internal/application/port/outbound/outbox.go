package outbound

import (
	"context"
	"time"
)

// Outbox topics. Commands are published to the broker, timeout records are
// forwarded to the scheduler.
const (
	TopicCommand         = "command"
	TopicTimeoutSchedule = "timeout.schedule"
	TopicTimeoutCancel   = "timeout.cancel"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxPublished  OutboxStatus = "PUBLISHED"
	OutboxFailed     OutboxStatus = "FAILED"
)

type OutboxRecord struct {
	ID            string
	CorrelationID string
	SagaVersion   int64
	Seq           int
	Topic         string
	Name          string
	Payload       []byte
	TraceContext  []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStore is the relay side of the outbox.
type OutboxStore interface {
	// ClaimPending moves up to limit pending records to PROCESSING, ordered
	// per saga by (SagaVersion, Seq).
	ClaimPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string, maxAttempts int) error
	// Release hands claimed records back without counting an attempt.
	Release(ctx context.Context, ids []string) error
	ResetStuck(ctx context.Context, claimedBefore time.Time) (int64, error)
	DeleteOld(ctx context.Context, publishedBefore time.Time) (int64, error)
}
