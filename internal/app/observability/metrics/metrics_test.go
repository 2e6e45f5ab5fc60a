package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestGet_WithoutInit(t *testing.T) {
	m := Get()
	require.NotNil(t, m)
	assert.NotPanics(t, func() {
		m.GenerationsTotal.Add(context.Background(), 1)
	})
	assert.Same(t, m, Get())
}

func TestBuild_RecordsIntoProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := build(provider.Meter("test"))

	ctx := context.Background()
	m.StorageWritesTotal.Add(ctx, 2, metric.WithAttributes(attribute.String("tier", "local")))
	m.GenerationDuration.Record(ctx, 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		names[md.Name] = true
	}
	assert.True(t, names["storage_writes_total"])
	assert.True(t, names["itinerary_generation_duration_seconds"])
}
