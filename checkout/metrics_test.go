package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	// Arrange
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	metrics, err := NewMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	// Act
	metrics.RecordCheckout(ctx, StateCompleted, "", 12.5)
	metrics.RecordCheckout(ctx, StateRejected, ReasonInsufficientStock, 3)
	metrics.RecordCheckout(ctx, StateRejected, ReasonInsufficientStock, 4)
	metrics.RecordDeductions(ctx, 3)
	metrics.RecordRestock(ctx, "milk")

	// Assert
	data := collect(t, reader)

	attempts, ok := data["checkout.attempts"].(metricdata.Sum[int64])
	require.True(t, ok)
	rejected := attribute.NewSet(
		attribute.String("state", string(StateRejected)),
		attribute.String("reason", string(ReasonInsufficientStock)),
	)
	var rejectedCount int64
	for _, dp := range attempts.DataPoints {
		if dp.Attributes.Equals(&rejected) {
			rejectedCount = dp.Value
		}
	}
	assert.Equal(t, int64(2), rejectedCount)

	deductions, ok := data["inventory.deductions"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, deductions.DataPoints, 1)
	assert.Equal(t, int64(3), deductions.DataPoints[0].Value)

	_, ok = data["checkout.duration"].(metricdata.Histogram[float64])
	assert.True(t, ok)
	_, ok = data["inventory.restocks"].(metricdata.Sum[int64])
	assert.True(t, ok)
}

func TestMetrics_NilRecordsNothing(t *testing.T) {
	var metrics *Metrics

	assert.NotPanics(t, func() {
		metrics.RecordCheckout(context.Background(), StateAborted, ReasonTimeout, 1)
		metrics.RecordDeductions(context.Background(), 1)
		metrics.RecordRestock(context.Background(), "x")
	})
}
