package saga

import (
	"context"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

type HandleUseCase interface {
	Handle(ctx context.Context, evt message.Event) (Result, error)
}
