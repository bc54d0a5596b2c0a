// Package observability provides OpenTelemetry metrics (Prometheus exporter), tracing and log context
// for the catalog.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameSearchDuration      = "mechlib_search_duration_seconds"
	MetricNameSearchCandidates    = "mechlib_search_candidates"
	MetricNameSearchResults       = "mechlib_search_results"
	MetricNameWorkflows           = "mechlib_workflows_total"
	MetricNameWorkflowDuration    = "mechlib_workflow_duration_seconds"
	MetricNameDeleteOutcomes      = "mechlib_delete_outcomes_total"
	MetricNameReconciled          = "mechlib_reconciled_markers_total"
	MetricNameEmbeddingDuration   = "mechlib_embedding_duration_seconds"
	MetricNameCacheHits           = "mechlib_cache_hits_total"
	MetricNameCacheMisses         = "mechlib_cache_misses_total"
	MetricNameRequestsRejected    = "mechlib_requests_rejected_total"
)

// Attribute keys.
const (
	AttrMode      = "mode"
	AttrOperation = "operation"
	AttrOutcome   = "outcome"
	AttrStep      = "step"
	AttrBlob      = "blob"
	AttrIndex     = "index"
	AttrStatus    = "status"
	AttrReason    = "reason"
)

// Search modes.
const (
	ModeHybrid   = "hybrid"
	ModeSemantic = "semantic"
)

// Workflow operations.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Workflow outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// Reconcile statuses.
const (
	ReconcileRepaired = "repaired"
	ReconcileDropped  = "dropped"
	ReconcileFailed   = "failed"
)

var (
	allowedModes      = map[string]bool{ModeHybrid: true, ModeSemantic: true}
	allowedOperations = map[string]bool{OperationCreate: true, OperationUpdate: true, OperationDelete: true}
	allowedOutcomes   = map[string]bool{
		OutcomeSuccess: true, OutcomeNotFound: true, OutcomeInvalid: true, OutcomeConflict: true, OutcomeFailed: true,
	}
	allowedReconcile = map[string]bool{ReconcileRepaired: true, ReconcileDropped: true, ReconcileFailed: true}
	allowedSteps     = map[string]bool{
		"lookup": true, "download": true, "write_tags": true, "read_tags": true, "upload": true,
		"embed": true, "index": true, "delete_blob": true, "delete_index": true, "presign": true,
		"lock": true, "marker": true, "search": true,
	}
	allowedCaches = map[string]bool{"query_embedding": true}
)

// normalize returns v if allowed, otherwise "other", keeping label cardinality bounded.
func normalize(v string, allowed map[string]bool) string {
	if allowed[v] {
		return v
	}

	return "other"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return normalize(name, allowedCaches)
}
