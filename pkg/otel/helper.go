package otel

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContextToJSON serializes the active trace context so it can travel
// through a stored record. It returns nil when there is nothing to carry.
func ExtractContextToJSON(ctx context.Context) []byte {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}

	b, err := json.Marshal(carrier)
	if err != nil {
		return nil
	}
	return b
}

// InjectContextFromJSON restores a context saved by ExtractContextToJSON as the
// remote parent of parentCtx.
func InjectContextFromJSON(parentCtx context.Context, data []byte) context.Context {
	if len(data) == 0 {
		return parentCtx
	}

	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal(data, &carrier); err != nil {
		return parentCtx
	}

	return otel.GetTextMapPropagator().Extract(parentCtx, carrier)
}
