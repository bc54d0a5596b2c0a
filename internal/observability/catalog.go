package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CatalogMetrics records search, workflow and reconcile metrics.
type CatalogMetrics interface {
	RecordSearch(ctx context.Context, mode string, candidates, results int, duration time.Duration)
	// RecordWorkflow records one create/update/delete. step names the failing step for failed outcomes.
	RecordWorkflow(ctx context.Context, operation, outcome, step string, duration time.Duration)
	RecordDelete(ctx context.Context, blobDeleted, indexDeleted bool)
	RecordReconcile(ctx context.Context, status string)
	RecordEmbedding(ctx context.Context, duration time.Duration, err error)
}

type catalogMetrics struct {
	searchDuration    metric.Float64Histogram
	searchCandidates  metric.Int64Histogram
	searchResults     metric.Int64Histogram
	workflows         metric.Int64Counter
	workflowDuration  metric.Float64Histogram
	deleteOutcomes    metric.Int64Counter
	reconciled        metric.Int64Counter
	embeddingDuration metric.Float64Histogram
}

// NewCatalogMetrics creates CatalogMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCatalogMetrics(meter metric.Meter) (CatalogMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	searchDuration, err := meter.Float64Histogram(MetricNameSearchDuration,
		metric.WithDescription("Search latency including embedding and both index fetches"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create search duration histogram: %w", err)
	}

	searchCandidates, err := meter.Int64Histogram(MetricNameSearchCandidates,
		metric.WithDescription("Ranked candidates per search before threshold filtering"))
	if err != nil {
		return nil, fmt.Errorf("create search candidates histogram: %w", err)
	}

	searchResults, err := meter.Int64Histogram(MetricNameSearchResults,
		metric.WithDescription("Results per search after threshold filtering"))
	if err != nil {
		return nil, fmt.Errorf("create search results histogram: %w", err)
	}

	workflows, err := meter.Int64Counter(MetricNameWorkflows,
		metric.WithDescription("Catalog workflows by operation, outcome and failing step"))
	if err != nil {
		return nil, fmt.Errorf("create workflows counter: %w", err)
	}

	workflowDuration, err := meter.Float64Histogram(MetricNameWorkflowDuration,
		metric.WithDescription("Catalog workflow duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create workflow duration histogram: %w", err)
	}

	deleteOutcomes, err := meter.Int64Counter(MetricNameDeleteOutcomes,
		metric.WithDescription("Delete outcomes by blob and index result; mixed results are partial failures"))
	if err != nil {
		return nil, fmt.Errorf("create delete outcomes counter: %w", err)
	}

	reconciled, err := meter.Int64Counter(MetricNameReconciled,
		metric.WithDescription("Stale update markers processed by the reconciler, by status"))
	if err != nil {
		return nil, fmt.Errorf("create reconciled counter: %w", err)
	}

	embeddingDuration, err := meter.Float64Histogram(MetricNameEmbeddingDuration,
		metric.WithDescription("Embedding provider call duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create embedding duration histogram: %w", err)
	}

	return &catalogMetrics{
		searchDuration:    searchDuration,
		searchCandidates:  searchCandidates,
		searchResults:     searchResults,
		workflows:         workflows,
		workflowDuration:  workflowDuration,
		deleteOutcomes:    deleteOutcomes,
		reconciled:        reconciled,
		embeddingDuration: embeddingDuration,
	}, nil
}

func (m *catalogMetrics) RecordSearch(ctx context.Context, mode string, candidates, results int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrMode, normalize(mode, allowedModes)))
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	m.searchCandidates.Record(ctx, int64(candidates), attrs)
	m.searchResults.Record(ctx, int64(results), attrs)
}

func (m *catalogMetrics) RecordWorkflow(ctx context.Context, operation, outcome, step string, duration time.Duration) {
	operation = normalize(operation, allowedOperations)
	outcome = normalize(outcome, allowedOutcomes)

	if step == "" {
		step = "none"
	} else {
		step = normalize(step, allowedSteps)
	}

	m.workflows.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrOutcome, outcome),
		attribute.String(AttrStep, step),
	))
	m.workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrOutcome, outcome),
	))
}

func (m *catalogMetrics) RecordDelete(ctx context.Context, blobDeleted, indexDeleted bool) {
	m.deleteOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBlob, strconv.FormatBool(blobDeleted)),
		attribute.String(AttrIndex, strconv.FormatBool(indexDeleted)),
	))
}

func (m *catalogMetrics) RecordReconcile(ctx context.Context, status string) {
	m.reconciled.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStatus, normalize(status, allowedReconcile))))
}

func (m *catalogMetrics) RecordEmbedding(ctx context.Context, duration time.Duration, err error) {
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeFailed
	}

	m.embeddingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, status)))
}
