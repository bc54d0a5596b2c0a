// Package wiring assembles the catalog services from configuration. The API server and the
// ingest and reconcile commands share it so every entry point runs the same workflows.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mechlib/catalog/internal/config"
	"github.com/mechlib/catalog/internal/embeddings"
	"github.com/mechlib/catalog/internal/locking"
	"github.com/mechlib/catalog/internal/objectstore"
	"github.com/mechlib/catalog/internal/observability"
	"github.com/mechlib/catalog/internal/repository"
	"github.com/mechlib/catalog/internal/service"
	"github.com/mechlib/catalog/internal/tagging"
)

const embeddingCallTimeout = 30 * time.Second

// Components are the wired catalog services. Close releases the lock backend.
type Components struct {
	Blobs     *objectstore.S3Store
	Catalog   *service.CatalogService
	Search    *service.SearchService
	Reconcile *service.ReconcileService

	redis *redis.Client
}

// Build creates the catalog services over db. metrics may be nil.
func Build(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, metrics *observability.Metrics) (*Components, error) {
	var (
		catalogMetrics observability.CatalogMetrics
		cacheMetrics   observability.CacheMetrics
	)

	if metrics != nil {
		catalogMetrics = metrics.Catalog
		cacheMetrics = metrics.Cache
	}

	blobs, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:     cfg.S3Bucket,
		Region:     cfg.AWSRegion,
		Endpoint:   cfg.S3Endpoint,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}

	tagger, err := tagging.NewExiftoolTagger(cfg.ExiftoolPath, cfg.ExiftoolConfig, cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("create tag writer: %w", err)
	}

	provider, err := embeddings.New(ctx, embeddings.Options{
		Provider:   cfg.EmbeddingProvider,
		APIKey:     cfg.EmbeddingProviderAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		BaseURL:    cfg.EmbeddingBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedder := embeddings.NewGuardedClient(provider, embeddings.GuardOptions{
		Name:              cfg.EmbeddingProvider,
		RequestsPerSecond: cfg.EmbeddingRateLimit,
		Timeout:           embeddingCallTimeout,
	})

	var (
		locker      service.Locker
		redisClient *redis.Client
	)

	if cfg.RedisURL != "" {
		redisClient, err = locking.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect lock backend: %w", err)
		}

		locker = locking.NewRedisLocker(redisClient, cfg.LockTTL)
	} else {
		slog.Warn("REDIS_URL not set, using in-process locks (single instance only)")

		locker = locking.NewLocalLocker()
	}

	images := repository.NewImagesRepository(db, cfg.KeywordLanguage)
	markers := repository.NewUpdateMarkersRepository(db)

	queryCache, err := service.NewQueryEmbeddingCache(cfg.QueryCacheSize)
	if err != nil {
		closeRedis(redisClient)

		return nil, err
	}

	logger := slog.Default()

	catalog := service.NewCatalogService(service.CatalogServiceParams{
		Repo:       images,
		Markers:    markers,
		Blobs:      blobs,
		Tags:       tagger,
		Embedder:   embedder,
		Locker:     locker,
		Metrics:    catalogMetrics,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	})

	search := service.NewSearchService(service.SearchServiceParams{
		Index:        images,
		Embedder:     embedder,
		Presigner:    blobs,
		QueryCache:   queryCache,
		CacheMetrics: cacheMetrics,
		Metrics:      catalogMetrics,
		MaxK:         cfg.SearchMaxK,
		Logger:       logger,
	})

	reconcile := service.NewReconcileService(service.ReconcileServiceParams{
		Repo:       images,
		Markers:    markers,
		Blobs:      blobs,
		Tags:       tagger,
		Embedder:   embedder,
		Locker:     locker,
		Metrics:    catalogMetrics,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	})

	slog.Info("catalog wired",
		"bucket", cfg.S3Bucket,
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_dimensions", cfg.EmbeddingDimensions,
		"keyword_language", cfg.KeywordLanguage,
		"distributed_locks", redisClient != nil,
	)

	return &Components{
		Blobs:     blobs,
		Catalog:   catalog,
		Search:    search,
		Reconcile: reconcile,
		redis:     redisClient,
	}, nil
}

// Close releases the lock backend connection, if any.
func (c *Components) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}

	if err := c.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis: %w", err)
	}

	return nil
}

func closeRedis(client *redis.Client) {
	if client == nil {
		return
	}

	if err := client.Close(); err != nil {
		slog.Warn("close redis after wiring error", "error", err)
	}
}
