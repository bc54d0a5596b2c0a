package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/canonical"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/objectstore"
	"github.com/mechlib/catalog/internal/observability"
)

// DefaultReconcileBatch is the number of stale markers handled per pass.
const DefaultReconcileBatch = 100

// ReconcileReport counts the outcome of one reconcile pass.
type ReconcileReport struct {
	Repaired int `json:"repaired"`
	Dropped  int `json:"dropped"`
	Failed   int `json:"failed"`
}

// Total returns the number of markers examined.
func (r ReconcileReport) Total() int {
	return r.Repaired + r.Dropped + r.Failed
}

// ReconcileService repairs updates that re-uploaded a blob but never replaced the index row.
// The blob's embedded tags are the source of truth: they are read back and the row is re-indexed.
type ReconcileService struct {
	repo       ImagesRepository
	markers    UpdateMarkers
	blobs      BlobStore
	tags       TagWriter
	embedder   EmbeddingClient
	locker     Locker
	metrics    observability.CatalogMetrics
	scratchDir string
	now        func() time.Time
	logger     *slog.Logger
}

// ReconcileServiceParams configures ReconcileService. Metrics and Logger may be nil.
type ReconcileServiceParams struct {
	Repo       ImagesRepository
	Markers    UpdateMarkers
	Blobs      BlobStore
	Tags       TagWriter
	Embedder   EmbeddingClient
	Locker     Locker
	Metrics    observability.CatalogMetrics
	ScratchDir string
	Now        func() time.Time
	Logger     *slog.Logger
}

// NewReconcileService creates a ReconcileService.
func NewReconcileService(p ReconcileServiceParams) *ReconcileService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	return &ReconcileService{
		repo:       p.Repo,
		markers:    p.Markers,
		blobs:      p.Blobs,
		tags:       p.Tags,
		embedder:   p.Embedder,
		locker:     p.Locker,
		metrics:    p.Metrics,
		scratchDir: p.ScratchDir,
		now:        now,
		logger:     logger,
	}
}

// Run repairs up to limit markers older than staleAfter. A failed marker is left in place for the next pass.
func (s *ReconcileService) Run(ctx context.Context, staleAfter time.Duration, limit int) (ReconcileReport, error) {
	if limit <= 0 {
		limit = DefaultReconcileBatch
	}

	stale, err := s.markers.ListStale(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to list stale update markers: %w", err)
	}

	var report ReconcileReport

	for _, marker := range stale {
		if err := ctx.Err(); err != nil {
			return report, err //nolint:wrapcheck // context cancellation
		}

		status, err := s.repair(ctx, marker)

		switch status {
		case observability.ReconcileRepaired:
			report.Repaired++
		case observability.ReconcileDropped:
			report.Dropped++
		default:
			report.Failed++

			s.logger.WarnContext(ctx, "reconcile: repair failed", "s3_uri", marker.S3URI, "error", err)
		}

		if s.metrics != nil {
			s.metrics.RecordReconcile(ctx, status)
		}
	}

	if report.Total() > 0 {
		s.logger.InfoContext(ctx, "reconcile pass complete",
			"repaired", report.Repaired, "dropped", report.Dropped, "failed", report.Failed)
	}

	return report, nil
}

// repair rebuilds the row for marker from the blob's embedded tags. When the tags cannot be read it
// falls back to the fields recorded with the marker, which are the ones the update wrote.
func (s *ReconcileService) repair(ctx context.Context, marker models.UpdateMarker) (string, error) {
	s3URI := marker.S3URI

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, s3URI)
		if err != nil {
			return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepLock, err)
		}
		defer unlock()
	}

	current, err := s.repo.GetByS3URI(ctx, s3URI)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted since the update started.
			return s.drop(ctx, s3URI)
		}

		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepLookup, err)
	}

	dir, cleanup, err := newScratch(s.scratchDir, current.Filename, s.logger)
	if err != nil {
		return observability.ReconcileFailed, err
	}
	defer cleanup()

	if err := s.blobs.Download(ctx, s3URI, dir); err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return s.drop(ctx, s3URI)
		}

		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepDownload, err)
	}

	fields, err := s.tags.ReadTags(ctx, dir)
	if err != nil {
		if marker.Fields.Description == "" {
			return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepReadTags, err)
		}

		s.logger.WarnContext(ctx, "reconcile: tags unreadable, using marker fields", "s3_uri", s3URI, "error", err)

		fields = marker.Fields
	}

	fields.Filename = current.Filename
	text := canonical.Build(fields)

	embedding, err := s.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepEmbed, err)
	}

	current.ImageFields = fields
	current.CanonicalText = text
	current.Embedding = embedding

	if _, err := s.repo.Replace(ctx, current.ID, current); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return s.drop(ctx, s3URI)
		}

		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepIndex, err)
	}

	if err := s.markers.Clear(ctx, s3URI); err != nil {
		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepMarker, err)
	}

	return observability.ReconcileRepaired, nil
}

func (s *ReconcileService) drop(ctx context.Context, s3URI string) (string, error) {
	if err := s.markers.Clear(ctx, s3URI); err != nil {
		return observability.ReconcileFailed, apperrors.NewExternalServiceError(apperrors.StepMarker, err)
	}

	return observability.ReconcileDropped, nil
}
