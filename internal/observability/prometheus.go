package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const (
	meterScope         = "github.com/mechlib/catalog/internal/observability"
	defaultServiceName = "mechlib-catalog"
	cardinalityLimit   = 2000
)

// durationBuckets are second-based; the SDK defaults are millisecond-oriented.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// countBuckets fit candidate and result counts (k is capped at 50, fetch_k at 150).
var countBuckets = []float64{0, 1, 3, 5, 10, 25, 50, 100, 150}

// MeterProvider is a Prometheus-backed meter provider with its /metrics handler.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewMeterProvider creates a MeterProvider that exports through a private Prometheus registry.
// Caller must call Shutdown on exit.
func NewMeterProvider(_ context.Context, serviceName string) (*MeterProvider, error) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	// A single resource avoids Schema URL conflicts when merging with resource.Default().
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: "mechlib_*_seconds"},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: durationBuckets}},
			),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameSearchCandidates},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: countBuckets}},
			),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameSearchResults},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: countBuckets}},
			),
		),
	)

	return &MeterProvider{
		provider: mp,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns the catalog meter.
func (p *MeterProvider) Meter() metric.Meter {
	return p.provider.Meter(meterScope)
}

// Provider returns the underlying provider for instrumentation libraries such as otelhttp.
func (p *MeterProvider) Provider() metric.MeterProvider {
	return p.provider
}

// Handler serves the Prometheus text exposition.
func (p *MeterProvider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the provider. Safe to call on nil.
func (p *MeterProvider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}

	return nil
}
