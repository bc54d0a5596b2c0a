package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reasons a request is rejected before reaching a catalog handler.
const (
	RejectBodyTooLarge = "body_too_large"
	RejectMissingKey   = "missing_key"
	RejectMalformedKey = "malformed_key"
	RejectInvalidKey   = "invalid_key"
)

var allowedRejects = map[string]bool{
	RejectBodyTooLarge: true, RejectMissingKey: true, RejectMalformedKey: true, RejectInvalidKey: true,
}

// APIMetrics counts /v1 requests turned away by middleware.
type APIMetrics interface {
	RecordRequestBodyTooLarge(ctx context.Context)
	RecordAuthRejected(ctx context.Context, reason string)
}

type apiMetrics struct {
	rejected metric.Int64Counter
}

// NewAPIMetrics returns (nil, nil) without a meter.
func NewAPIMetrics(meter metric.Meter) (APIMetrics, error) {
	if meter == nil {
		//nolint:nilnil // callers check for nil when metrics are disabled
		return nil, nil
	}

	rejected, err := meter.Int64Counter(
		MetricNameRequestsRejected,
		metric.WithDescription("Requests rejected by middleware before a catalog handler ran, by reason."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rejected requests counter: %w", err)
	}

	return &apiMetrics{rejected: rejected}, nil
}

func (a *apiMetrics) RecordRequestBodyTooLarge(ctx context.Context) {
	a.reject(ctx, RejectBodyTooLarge)
}

func (a *apiMetrics) RecordAuthRejected(ctx context.Context, reason string) {
	a.reject(ctx, reason)
}

func (a *apiMetrics) reject(ctx context.Context, reason string) {
	a.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrReason, normalize(reason, allowedRejects)),
	))
}
