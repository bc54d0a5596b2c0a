package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/observability"
	"github.com/mechlib/catalog/internal/ranking"
	"github.com/mechlib/catalog/pkg/cache"
)

const searchQueryEmbeddingCacheName = "query_embedding"

// Search defaults applied when the request leaves a field unset.
const (
	DefaultK              = 3
	DefaultScoreThreshold = 0.5
	DefaultKeywordWeight  = 0.5
	DefaultMaxK           = 50
)

// Search messages.
const (
	msgNoCandidates = "No images found matching your query."
	msgBelowCutoff  = "No images found with distance <= %g. Closest match has distance %.3f. " +
		"Try increasing the threshold to %.2f or higher."
)

// SearchService answers natural-language queries by fusing keyword and vector candidates.
type SearchService struct {
	index        SearchIndex
	embedder     EmbeddingClient
	presigner    Presigner
	queryCache   *cache.LoaderCache[string, []float32]
	cacheMetrics observability.CacheMetrics
	metrics      observability.CatalogMetrics
	maxK         int
	logger       *slog.Logger
}

// Presigner turns an s3_uri into a fetchable URL.
type Presigner interface {
	Presign(ctx context.Context, uri string) (string, error)
}

// SearchServiceParams configures SearchService. QueryCache, metrics and Logger may be nil.
type SearchServiceParams struct {
	Index        SearchIndex
	Embedder     EmbeddingClient
	Presigner    Presigner
	QueryCache   *cache.LoaderCache[string, []float32]
	CacheMetrics observability.CacheMetrics
	Metrics      observability.CatalogMetrics
	MaxK         int
	Logger       *slog.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(p SearchServiceParams) *SearchService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxK := p.MaxK
	if maxK <= 0 {
		maxK = DefaultMaxK
	}

	return &SearchService{
		index:        p.Index,
		embedder:     p.Embedder,
		presigner:    p.Presigner,
		queryCache:   p.QueryCache,
		cacheMetrics: p.CacheMetrics,
		metrics:      p.Metrics,
		maxK:         maxK,
		logger:       logger,
	}
}

// NewQueryEmbeddingCache creates the cache for query embeddings, keyed by the normalized query.
func NewQueryEmbeddingCache(size int) (*cache.LoaderCache[string, []float32], error) {
	c, err := cache.NewLoaderCache[string, []float32](size, func(q string) string { return q })
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	return c, nil
}

// Search ranks the catalog for req and keeps results within the score threshold.
// total_candidates counts the ranked list before filtering; filtered_count counts what was kept.
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	query := strings.Join(strings.Fields(req.Query), " ")
	if query == "" {
		return nil, apperrors.NewValidationError("query", "query is required and must be non-empty")
	}

	k := req.K
	if k == 0 {
		k = DefaultK
	}

	if k < 0 || k > s.maxK {
		return nil, apperrors.NewValidationError("k", fmt.Sprintf("k must be between 1 and %d", s.maxK))
	}

	threshold := DefaultScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	// The weight is accepted for API compatibility; fusion uses the fixed rank boost.
	keywordWeight := DefaultKeywordWeight
	if req.KeywordWeight != nil {
		keywordWeight = *req.KeywordWeight
	}

	if keywordWeight < 0 || keywordWeight > 1 {
		return nil, apperrors.NewValidationError("keyword_weight", "keyword_weight must be between 0 and 1")
	}

	hybrid := req.UseHybrid == nil || *req.UseHybrid

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	ranked, records, err := s.rank(ctx, query, embedding, k, hybrid)
	if err != nil {
		return nil, err
	}

	resp := &models.SearchResponse{
		Results:         []models.SearchResultItem{},
		TotalCandidates: len(ranked),
	}

	for _, r := range ranked {
		if r.AdjustedDistance > threshold {
			continue
		}

		rec := records[r.Key]

		url, err := s.presigner.Presign(ctx, rec.S3URI)
		if err != nil {
			return nil, apperrors.NewExternalServiceError(apperrors.StepPresign, err)
		}

		resp.Results = append(resp.Results, models.SearchResultItem{
			URL:           url,
			S3URI:         rec.S3URI,
			ImageFields:   rec.ImageFields,
			DistanceScore: r.AdjustedDistance,
		})
	}

	resp.FilteredCount = len(resp.Results)

	switch {
	case len(ranked) == 0:
		resp.Message = msgNoCandidates
	case len(resp.Results) == 0:
		closest := ranked[0].AdjustedDistance
		resp.Message = fmt.Sprintf(msgBelowCutoff, threshold, closest, closest+0.1)
	}

	mode := observability.ModeSemantic
	if hybrid {
		mode = observability.ModeHybrid
	}

	if s.metrics != nil {
		s.metrics.RecordSearch(ctx, mode, resp.TotalCandidates, resp.FilteredCount, time.Since(start))
	}

	s.logger.DebugContext(ctx, "search complete",
		"mode", mode, "k", k, "keyword_weight", keywordWeight, "total_candidates", resp.TotalCandidates, "filtered_count", resp.FilteredCount)

	return resp, nil
}

// rank fetches candidates and orders them. Hybrid mode pulls FetchK(k) from both indexes
// concurrently and fuses them; semantic mode pulls exactly k vector candidates.
func (s *SearchService) rank(
	ctx context.Context, query string, embedding []float32, k int, hybrid bool,
) ([]ranking.Result[uuid.UUID], map[uuid.UUID]models.ImageRecord, error) {
	var (
		vectorHits  []models.VectorHit
		keywordHits []models.KeywordHit
	)

	if hybrid {
		fetchK := ranking.FetchK(k)
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			var err error
			vectorHits, err = s.index.VectorSearch(gctx, embedding, fetchK)

			return err
		})

		g.Go(func() error {
			var err error
			keywordHits, err = s.index.KeywordSearch(gctx, query, fetchK)

			return err
		})

		if err := g.Wait(); err != nil {
			return nil, nil, apperrors.NewExternalServiceError(apperrors.StepSearch, err)
		}
	} else {
		var err error

		vectorHits, err = s.index.VectorSearch(ctx, embedding, k)
		if err != nil {
			return nil, nil, apperrors.NewExternalServiceError(apperrors.StepSearch, err)
		}
	}

	semantic := make([]ranking.Semantic[uuid.UUID], len(vectorHits))
	records := make(map[uuid.UUID]models.ImageRecord, len(vectorHits))

	for i, hit := range vectorHits {
		semantic[i] = ranking.Semantic[uuid.UUID]{Key: hit.Record.ID, Distance: hit.Distance}
		records[hit.Record.ID] = hit.Record
	}

	if !hybrid {
		return ranking.SemanticOnly(semantic, k), records, nil
	}

	keyword := make([]uuid.UUID, len(keywordHits))
	for i, hit := range keywordHits {
		keyword[i] = hit.ID
	}

	return ranking.Fuse(semantic, keyword, k), records, nil
}

func (s *SearchService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	load := func(ctx context.Context, q string) ([]float32, error) {
		return s.embedder.CreateEmbedding(ctx, q)
	}

	var (
		embedding []float32
		err       error
	)

	if s.queryCache == nil {
		embedding, err = load(ctx, query)
	} else {
		var hit bool

		embedding, hit, err = s.queryCache.GetWithStats(ctx, query, load)
		if err == nil && s.cacheMetrics != nil {
			if hit {
				s.cacheMetrics.RecordHit(ctx, searchQueryEmbeddingCacheName)
			} else {
				s.cacheMetrics.RecordMiss(ctx, searchQueryEmbeddingCacheName)
			}
		}
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "search: create query embedding failed", "error", err)

		return nil, apperrors.NewExternalServiceError(apperrors.StepEmbed, err)
	}

	return embedding, nil
}
