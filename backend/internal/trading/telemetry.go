package trading

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are no-ops until a meter provider is installed.
type instruments struct {
	placed   metric.Int64Counter
	fills    metric.Int64Counter
	rejected metric.Int64Counter
	ticks    metric.Int64Counter
}

var (
	inst     instruments
	instOnce sync.Once
)

func meters() *instruments {
	instOnce.Do(func() {
		meter := otel.Meter("papertrade/trading")
		inst.placed, _ = meter.Int64Counter("papertrade_orders_placed_total",
			metric.WithDescription("Orders accepted by the engine"),
			metric.WithUnit("{order}"))
		inst.fills, _ = meter.Int64Counter("papertrade_fills_total",
			metric.WithDescription("Orders filled, by origin"),
			metric.WithUnit("{fill}"))
		inst.rejected, _ = meter.Int64Counter("papertrade_orders_rejected_total",
			metric.WithDescription("Order operations rejected, by error code"),
			metric.WithUnit("{order}"))
		inst.ticks, _ = meter.Int64Counter("papertrade_scheduler_ticks_total",
			metric.WithDescription("Limit order scheduler passes"),
			metric.WithUnit("{tick}"))
	})
	return &inst
}

func count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
