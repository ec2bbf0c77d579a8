package saga

import (
	"context"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type HandleTracingDecorator struct {
	Next   HandleUseCase
	Tracer trace.Tracer
}

func NewHandleTracingDecorator(next HandleUseCase) *HandleTracingDecorator {
	return &HandleTracingDecorator{Next: next, Tracer: otel.Tracer("booking-saga/orchestrator")}
}

func (d *HandleTracingDecorator) Handle(ctx context.Context, evt message.Event) (Result, error) {
	if evt == nil {
		return d.Next.Handle(ctx, evt)
	}
	ctx, span := d.Tracer.Start(ctx, "saga.Handle "+evt.EventName(),
		trace.WithAttributes(
			attribute.String("saga.correlation_id", evt.SagaID()),
			attribute.String("saga.event", evt.EventName()),
		))
	defer span.End()

	res, err := d.Next.Handle(ctx, evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Bool("saga.ignored", res.Ignored))
	if res.Saga != nil {
		span.SetAttributes(attribute.String("saga.status", res.Saga.Status.String()))
	}
	return res, nil
}
