package saga

import (
	"context"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
)

type HandleMetricsDecorator struct {
	Next    HandleUseCase
	Metrics metrics.Metrics
}

func (d *HandleMetricsDecorator) Handle(ctx context.Context, evt message.Event) (Result, error) {
	start := time.Now()
	res, err := d.Next.Handle(ctx, evt)
	d.Metrics.RecordUseCaseExecution("HandleSagaEvent", err == nil, time.Since(start))
	return res, err
}
