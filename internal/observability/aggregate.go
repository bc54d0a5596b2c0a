package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all catalog metric collectors. When metrics are disabled, all fields are nil.
// Components accept the individual interfaces and treat nil as disabled.
type Metrics struct {
	Catalog CatalogMetrics
	Cache   CacheMetrics
	API     APIMetrics
}

// NewMetrics creates all collectors from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	catalog, err := NewCatalogMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("catalog metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{
		Catalog: catalog,
		Cache:   cache,
		API:     api,
	}, nil
}
