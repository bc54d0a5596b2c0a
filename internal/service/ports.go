package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mechlib/catalog/internal/models"
)

// ImagesRepository is the record store behind both indexes.
type ImagesRepository interface {
	Upsert(ctx context.Context, rec *models.ImageRecord) (*models.ImageRecord, error)
	GetByS3URI(ctx context.Context, s3URI string) (*models.ImageRecord, error)
	Replace(ctx context.Context, oldID uuid.UUID, rec *models.ImageRecord) (*models.ImageRecord, error)
	DeleteByS3URI(ctx context.Context, s3URI string) (bool, error)
}

// SearchIndex exposes the keyword and vector indexes.
type SearchIndex interface {
	KeywordSearch(ctx context.Context, query string, limit int) ([]models.KeywordHit, error)
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]models.VectorHit, error)
}

// UpdateMarkers persists write-ahead markers for in-flight updates.
type UpdateMarkers interface {
	Begin(ctx context.Context, s3URI string, fields models.ImageFields) error
	Clear(ctx context.Context, s3URI string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.UpdateMarker, error)
}

// BlobStore holds the image bytes. Delete returns objectstore.ErrObjectNotFound for missing objects.
type BlobStore interface {
	Bucket() string
	Upload(ctx context.Context, localPath, key string) (string, error)
	Download(ctx context.Context, uri, localPath string) error
	Delete(ctx context.Context, uri string) error
	Presign(ctx context.Context, uri string) (string, error)
}

// TagWriter embeds catalog fields into an image file and reads them back.
type TagWriter interface {
	WriteTags(ctx context.Context, path string, fields models.ImageFields) error
	ReadTags(ctx context.Context, path string) (models.ImageFields, error)
}

// Locker serializes workflows on the same s3_uri.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
