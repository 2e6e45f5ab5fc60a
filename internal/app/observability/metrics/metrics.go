package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AppMetrics holds the pipeline's metric instruments.
type AppMetrics struct {
	GenerationsTotal    metric.Int64Counter
	GenerationDuration  metric.Float64Histogram
	RecoveriesTotal     metric.Int64Counter
	UpdatesTotal        metric.Int64Counter
	StorageWritesTotal  metric.Int64Counter
	StorageRetriesTotal metric.Int64Counter
	SyncMessagesTotal   metric.Int64Counter
	SyncConflictsTotal  metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics creates the instruments from the global MeterProvider once.
// Call it after the provider is installed; later calls are no-ops.
func InitAppMetrics() {
	once.Do(func() {
		appMetrics = build(otel.GetMeterProvider().Meter("loci-planner"))
	})
}

// Get returns the instruments, initialising them from whatever MeterProvider is
// current if InitAppMetrics has not run yet.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}

func build(meter metric.Meter) *AppMetrics {
	fallback := noop.NewMeterProvider().Meter("loci-planner")
	m := &AppMetrics{}

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	m.GenerationsTotal = counter("itinerary_generations_total", "Total number of itinerary generations", "{generation}")
	m.RecoveriesTotal = counter("itinerary_recoveries_total", "Total number of recovery strategies executed", "{recovery}")
	m.UpdatesTotal = counter("itinerary_updates_total", "Total number of itinerary updates applied", "{update}")
	m.StorageWritesTotal = counter("storage_writes_total", "Total number of storage tier writes", "{write}")
	m.StorageRetriesTotal = counter("storage_write_retries_total", "Total number of storage write retries", "{retry}")
	m.SyncMessagesTotal = counter("sync_messages_total", "Total number of sync messages handled", "{message}")
	m.SyncConflictsTotal = counter("sync_conflicts_total", "Total number of version conflicts detected", "{conflict}")

	h, err := meter.Float64Histogram(
		"itinerary_generation_duration_seconds",
		metric.WithDescription("Duration of itinerary generation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		h, _ = fallback.Float64Histogram("itinerary_generation_duration_seconds")
	}
	m.GenerationDuration = h

	return m
}
