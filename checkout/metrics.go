package checkout

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the checkout instruments. A nil *Metrics records nothing.
type Metrics struct {
	checkouts       metric.Int64Counter
	checkoutLatency metric.Float64Histogram
	deductions      metric.Int64Counter
	restocks        metric.Int64Counter
}

// NewMetrics registers the checkout instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("checkout")

	checkouts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome and reason"))
	if err != nil {
		return nil, err
	}

	checkoutLatency, err := meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	deductions, err := meter.Int64Counter("inventory.deductions",
		metric.WithDescription("Ingredient rows decreased by completed checkouts"))
	if err != nil {
		return nil, err
	}

	restocks, err := meter.Int64Counter("inventory.restocks",
		metric.WithDescription("Ingredient restocks"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		checkouts:       checkouts,
		checkoutLatency: checkoutLatency,
		deductions:      deductions,
		restocks:        restocks,
	}, nil
}

// RecordCheckout counts one finished attempt. reason is empty for completed
// checkouts.
func (m *Metrics) RecordCheckout(ctx context.Context, state State, reason Reason, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("reason", string(reason)),
	)
	m.checkouts.Add(ctx, 1, attrs)
	m.checkoutLatency.Record(ctx, durationMs, attrs)
}

func (m *Metrics) RecordDeductions(ctx context.Context, ingredients int) {
	if m == nil {
		return
	}
	m.deductions.Add(ctx, int64(ingredients))
}

func (m *Metrics) RecordRestock(ctx context.Context, ingredientID string) {
	if m == nil {
		return
	}
	m.restocks.Add(ctx, 1, metric.WithAttributes(attribute.String("ingredient_id", ingredientID)))
}
