package outbound

import (
	"context"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

// TimeoutScheduler arms and disarms saga deadlines. A scheduled token fires
// at least once at or after its deadline; Cancel is best effort, so consumers
// must compare tokens on receipt.
type TimeoutScheduler interface {
	Schedule(ctx context.Context, t message.Timeout) error
	Cancel(ctx context.Context, token string) error
}
