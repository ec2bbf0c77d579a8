package scheduler

import (
	"context"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

// Backend stores armed timeouts. ClaimDue leases due entries for lease so a
// crashed poller's claims become due again instead of getting lost.
type Backend interface {
	Add(ctx context.Context, t message.Timeout) error
	Remove(ctx context.Context, token string) error
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]message.Timeout, error)
}
