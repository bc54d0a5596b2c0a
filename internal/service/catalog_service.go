package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/canonical"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/objectstore"
	"github.com/mechlib/catalog/internal/observability"
)

// CreateInput describes one local image to catalog.
type CreateInput struct {
	// Path is a local file readable by the process.
	Path string
	// Directory is an optional object key prefix.
	Directory string
	// Fields are the tags to embed and index. Filename and Timestamp are set by the service.
	Fields models.ImageFields
}

// DeleteResult reports the two independent deletions.
type DeleteResult struct {
	DeletedFromBlobStore bool
	DeletedFromIndex     bool
}

// Partial reports whether exactly one of the deletions happened.
func (r DeleteResult) Partial() bool {
	return r.DeletedFromBlobStore != r.DeletedFromIndex
}

// CatalogService keeps the blob (with embedded tags), the index row and its derived artifacts consistent
// across create, update and delete.
type CatalogService struct {
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

// CatalogServiceParams configures CatalogService. Metrics and Logger may be nil.
type CatalogServiceParams struct {
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

// NewCatalogService creates a CatalogService.
func NewCatalogService(p CatalogServiceParams) *CatalogService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	return &CatalogService{
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

// Create catalogs one local image: tags are written into a scratch copy, the copy is uploaded to
// {directory}/{filename}, and the record is upserted on its s3_uri. Creating the same key twice
// leaves one live record.
func (s *CatalogService) Create(ctx context.Context, in CreateInput) (rec *models.ImageRecord, err error) {
	start := s.now()

	defer func() { s.recordWorkflow(ctx, observability.OperationCreate, start, err) }()

	if err := validateSource(in.Path); err != nil {
		return nil, err
	}

	fields := in.Fields
	fields.Filename = filepath.Base(in.Path)
	fields.Timestamp = s.stamp()

	key := objectstore.KeyFor(in.Directory, fields.Filename)
	s3URI := objectstore.URI(s.blobs.Bucket(), key)
	ctx = observability.WithLogAttrs(ctx, slog.String("s3_uri", s3URI))

	unlock, err := s.lock(ctx, s3URI)
	if err != nil {
		return nil, err
	}
	defer unlock()

	text := canonical.Build(fields)

	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	work, cleanup, err := newScratch(s.scratchDir, fields.Filename, s.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := copyFile(in.Path, work); err != nil {
		return nil, fmt.Errorf("stage %s: %w", in.Path, err)
	}

	if err := s.tags.WriteTags(ctx, work, fields); err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepWriteTags, err)
	}

	uploaded, err := s.blobs.Upload(ctx, work, key)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepUpload, err)
	}

	rec, err = s.repo.Upsert(ctx, &models.ImageRecord{
		S3URI:         uploaded,
		ImageFields:   fields,
		CanonicalText: text,
		Embedding:     embedding,
	})
	if err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepIndex, err)
	}

	s.logger.InfoContext(ctx, "image cataloged", "id", rec.ID, "filename", fields.Filename)

	return rec, nil
}

// Process catalogs every path with shared fields. A directory expands recursively to its supported
// images, keyed under the directory's name (or the given directory prefix). All paths are validated
// before anything is written; the batch then stops at the first failure and returns what was done.
func (s *CatalogService) Process(
	ctx context.Context, paths []string, directory string, fields models.ImageFields,
) ([]models.ProcessedImage, error) {
	inputs, err := expandPaths(paths, directory, fields)
	if err != nil {
		return nil, err
	}

	processed := make([]models.ProcessedImage, 0, len(inputs))

	for _, in := range inputs {
		rec, err := s.Create(ctx, in)
		if err != nil {
			return processed, fmt.Errorf("process %s: %w", in.Path, err)
		}

		processed = append(processed, models.ProcessedImage{Filename: rec.Filename, S3URI: rec.S3URI})
	}

	return processed, nil
}

// Get returns the record for s3URI.
func (s *CatalogService) Get(ctx context.Context, s3URI string) (*models.ImageRecord, error) {
	rec, err := s.repo.GetByS3URI(ctx, s3URI)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}

		return nil, apperrors.NewExternalServiceError(apperrors.StepLookup, err)
	}

	return rec, nil
}

// Presign returns a time-limited URL for s3URI.
func (s *CatalogService) Presign(ctx context.Context, s3URI string) (string, error) {
	url, err := s.blobs.Presign(ctx, s3URI)
	if err != nil {
		return "", apperrors.NewExternalServiceError(apperrors.StepPresign, err)
	}

	return url, nil
}

// Update merges patch into the record for s3URI, rewrites the blob's tags and replaces the index row.
// A missing record yields NotFound with nothing mutated. A tag-write failure aborts before the blob is
// re-uploaded. A marker covers the window between the re-upload and the row replacement.
func (s *CatalogService) Update(
	ctx context.Context, s3URI string, patch models.FieldsPatch,
) (rec *models.ImageRecord, err error) {
	start := s.now()

	defer func() { s.recordWorkflow(ctx, observability.OperationUpdate, start, err) }()

	key, err := s.keyOf(s3URI)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithLogAttrs(ctx, slog.String("s3_uri", s3URI))

	unlock, err := s.lock(ctx, s3URI)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Get(ctx, s3URI)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(current.ImageFields)
	merged.Timestamp = s.stamp()

	if err := s.markers.Begin(ctx, s3URI, merged); err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepMarker, err)
	}

	// Until the blob is rewritten the marker protects nothing, so early failures drop it.
	blobWritten := false

	defer func() {
		if err != nil && !blobWritten {
			s.clearMarker(ctx, s3URI)
		}
	}()

	work, cleanup, err := newScratch(s.scratchDir, current.Filename, s.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := s.blobs.Download(ctx, s3URI, work); err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepDownload, err)
	}

	if err := s.tags.WriteTags(ctx, work, merged); err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepWriteTags, err)
	}

	if _, err := s.blobs.Upload(ctx, work, key); err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepUpload, err)
	}

	blobWritten = true

	text := canonical.Build(merged)

	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	rec, err = s.repo.Replace(ctx, current.ID, &models.ImageRecord{
		S3URI:         s3URI,
		ImageFields:   merged,
		CanonicalText: text,
		Embedding:     embedding,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// The record is gone; there is nothing left to repair.
			s.clearMarker(ctx, s3URI)

			return nil, err
		}

		return nil, apperrors.NewExternalServiceError(apperrors.StepIndex, err)
	}

	s.clearMarker(ctx, s3URI)
	s.logger.InfoContext(ctx, "image metadata updated", "id", rec.ID)

	return rec, nil
}

// Delete removes the blob and the index row independently and reports both outcomes.
// It returns an error only when neither deletion happened: NotFound when both were simply absent,
// otherwise an ExternalServiceError naming the failed step.
func (s *CatalogService) Delete(ctx context.Context, s3URI string) (res DeleteResult, err error) {
	start := s.now()

	defer func() { s.recordWorkflow(ctx, observability.OperationDelete, start, err) }()

	if _, err := s.keyOf(s3URI); err != nil {
		return DeleteResult{}, err
	}

	ctx = observability.WithLogAttrs(ctx, slog.String("s3_uri", s3URI))

	unlock, err := s.lock(ctx, s3URI)
	if err != nil {
		return DeleteResult{}, err
	}
	defer unlock()

	blobErr := s.blobs.Delete(ctx, s3URI)
	res.DeletedFromBlobStore = blobErr == nil

	if blobErr != nil {
		s.logger.WarnContext(ctx, "blob delete failed", "error", blobErr)
	}

	indexDeleted, indexErr := s.repo.DeleteByS3URI(ctx, s3URI)
	res.DeletedFromIndex = indexErr == nil && indexDeleted

	if indexErr != nil {
		s.logger.WarnContext(ctx, "index delete failed", "error", indexErr)
	}

	if s.metrics != nil {
		s.metrics.RecordDelete(ctx, res.DeletedFromBlobStore, res.DeletedFromIndex)
	}

	if res.DeletedFromBlobStore || res.DeletedFromIndex {
		if res.Partial() {
			s.logger.WarnContext(ctx, "image partially deleted",
				"deleted_from_blob_store", res.DeletedFromBlobStore, "deleted_from_index", res.DeletedFromIndex)
		} else {
			s.logger.InfoContext(ctx, "image deleted")
		}

		return res, nil
	}

	switch {
	case blobErr != nil && !errors.Is(blobErr, objectstore.ErrObjectNotFound):
		return res, apperrors.NewExternalServiceError(apperrors.StepDeleteBlob, blobErr)
	case indexErr != nil:
		return res, apperrors.NewExternalServiceError(apperrors.StepDeleteIndex, indexErr)
	default:
		return res, apperrors.NewNotFoundError("image", "no image stored at "+s3URI)
	}
}

// keyOf validates s3URI and returns its object key. URIs naming a bucket other than the
// configured one are rejected so a rewrite cannot land beside the original object.
func (s *CatalogService) keyOf(s3URI string) (string, error) {
	bucket, key, err := objectstore.ParseURI(s3URI)
	if err != nil {
		return "", apperrors.NewValidationError("s3_uri", err.Error())
	}

	if bucket != s.blobs.Bucket() {
		return "", apperrors.NewValidationError("s3_uri",
			fmt.Sprintf("bucket %q is not the catalog bucket %q", bucket, s.blobs.Bucket()))
	}

	return key, nil
}

func (s *CatalogService) lock(ctx context.Context, s3URI string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	unlock, err := s.locker.Lock(ctx, s3URI)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepLock, err)
	}

	return unlock, nil
}

func (s *CatalogService) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	embedding, err := s.embedder.CreateEmbedding(ctx, text)

	if s.metrics != nil {
		s.metrics.RecordEmbedding(ctx, time.Since(start), err)
	}

	if err != nil {
		return nil, apperrors.NewExternalServiceError(apperrors.StepEmbed, err)
	}

	return embedding, nil
}

func (s *CatalogService) clearMarker(ctx context.Context, s3URI string) {
	if err := s.markers.Clear(context.WithoutCancel(ctx), s3URI); err != nil {
		s.logger.WarnContext(ctx, "failed to clear update marker", "error", err)
	}
}

// stamp returns the tag timestamp, truncated to the second precision exiftool stores.
func (s *CatalogService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// newScratch returns a path inside a fresh private directory, named like filename so the
// extension (and therefore the tag writer's file format detection) is preserved.
func newScratch(scratchDir, filename string, logger *slog.Logger) (string, func(), error) {
	dir, err := os.MkdirTemp(scratchDir, "mechlib-*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}

	return filepath.Join(dir, path.Base(filename)), cleanup, nil
}

func (s *CatalogService) recordWorkflow(ctx context.Context, operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	outcome, step := classify(err)
	s.metrics.RecordWorkflow(ctx, operation, outcome, step, s.now().Sub(start))
}

func classify(err error) (outcome, step string) {
	var ext *apperrors.ExternalServiceError

	switch {
	case err == nil:
		return observability.OutcomeSuccess, ""
	case errors.Is(err, apperrors.ErrNotFound):
		return observability.OutcomeNotFound, ""
	case errors.Is(err, apperrors.ErrValidation):
		return observability.OutcomeInvalid, ""
	case errors.Is(err, apperrors.ErrConflict):
		return observability.OutcomeConflict, ""
	case errors.As(err, &ext):
		return observability.OutcomeFailed, ext.Step
	default:
		return observability.OutcomeFailed, ""
	}
}

func validateSource(p string) error {
	if !objectstore.IsSupported(p) {
		return apperrors.NewValidationError("paths",
			fmt.Sprintf("unsupported file format: %s (supported: %s)", p, strings.Join(objectstore.SupportedExtensions, ", ")))
	}

	info, err := os.Stat(p)
	if err != nil {
		return apperrors.NewValidationError("paths", "cannot read "+p)
	}

	if !info.Mode().IsRegular() {
		return apperrors.NewValidationError("paths", p+" is not a regular file")
	}

	return nil
}

// expandPaths turns files and directories into create inputs, validating every file.
func expandPaths(paths []string, directory string, fields models.ImageFields) ([]CreateInput, error) {
	var inputs []CreateInput

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, apperrors.NewValidationError("paths", "cannot read "+p)
		}

		if !info.IsDir() {
			if err := validateSource(p); err != nil {
				return nil, err
			}

			inputs = append(inputs, CreateInput{Path: p, Directory: directory, Fields: fields})

			continue
		}

		prefix := directory
		if prefix == "" {
			prefix = filepath.Base(filepath.Clean(p))
		}

		var found []CreateInput

		err = filepath.WalkDir(p, func(file string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if d.IsDir() || !objectstore.IsSupported(file) {
				return nil
			}

			rel, err := filepath.Rel(p, filepath.Dir(file))
			if err != nil {
				return err
			}

			dir := prefix
			if rel != "." {
				dir = path.Join(prefix, filepath.ToSlash(rel))
			}

			found = append(found, CreateInput{Path: file, Directory: dir, Fields: fields})

			return nil
		})
		if err != nil {
			return nil, apperrors.NewValidationError("paths", fmt.Sprintf("cannot list %s: %v", p, err))
		}

		if len(found) == 0 {
			return nil, apperrors.NewValidationError("paths", "no supported images in "+p)
		}

		slices.SortFunc(found, func(a, b CreateInput) int { return strings.Compare(a.Path, b.Path) })
		inputs = append(inputs, found...)
	}

	return inputs, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // caller-supplied local path, validated by validateSource
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // scratch path
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err //nolint:wrapcheck // wrapped by caller
	}

	return out.Close() //nolint:wrapcheck // wrapped by caller
}
