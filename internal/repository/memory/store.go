// Package memory provides an in-process image store with BM25 keyword ranking and
// cosine vector search. It mirrors the Postgres repositories for tests and local runs.
package memory

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/models"
)

const (
	bm25K1 = 1.2  // Term frequency saturation
	bm25B  = 0.75 // Length normalization
)

type row struct {
	record models.ImageRecord
	seq    uint64 // insertion order, kept across Replace
	terms  map[string]int
	length int
}

// Store is a concurrency-safe in-memory image store.
type Store struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]*row
	byURI   map[string]uuid.UUID
	markers map[string]models.UpdateMarker
	nextSeq uint64
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rows:    make(map[uuid.UUID]*row),
		byURI:   make(map[string]uuid.UUID),
		markers: make(map[string]models.UpdateMarker),
		now:     time.Now,
	}
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rows)
}

// Upsert inserts rec or overwrites the record with the same s3_uri in place.
func (s *Store) Upsert(_ context.Context, rec *models.ImageRecord) (*models.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := cloneRecord(rec)

	if id, ok := s.byURI[rec.S3URI]; ok {
		existing := s.rows[id]
		out.ID = id
		out.CreatedAt = existing.record.CreatedAt
		out.UpdatedAt = now
		s.put(out, existing.seq)

		return ptr(cloneRecord(&out)), nil
	}

	if out.ID == uuid.Nil {
		out.ID = uuid.Must(uuid.NewV7())
	}

	out.CreatedAt = now
	out.UpdatedAt = now
	s.nextSeq++
	s.put(out, s.nextSeq)

	return ptr(cloneRecord(&out)), nil
}

// GetByS3URI returns the record with the exact s3_uri.
func (s *Store) GetByS3URI(_ context.Context, s3URI string) (*models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byURI[s3URI]
	if !ok {
		return nil, apperrors.NewNotFoundError("image record", "no image record for s3_uri "+s3URI)
	}

	return ptr(cloneRecord(&s.rows[id].record)), nil
}

// Replace atomically swaps the old record (by oldID, else by s3_uri) for rec under a new id.
// Returns a ConflictError when the old record no longer exists.
func (s *Store) Replace(_ context.Context, oldID uuid.UUID, rec *models.ImageRecord) (*models.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID == uuid.Nil {
		oldID = s.byURI[rec.S3URI]
	}

	old, ok := s.rows[oldID]
	if !ok {
		return nil, apperrors.NewConflictError("image record for " + rec.S3URI + " was removed during the update")
	}

	s.remove(oldID)

	out := cloneRecord(rec)
	out.ID = uuid.Must(uuid.NewV7())
	out.CreatedAt = old.record.CreatedAt
	out.UpdatedAt = s.now()
	s.put(out, old.seq)

	return ptr(cloneRecord(&out)), nil
}

// DeleteByID removes the record with the given id.
func (s *Store) DeleteByID(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remove(id), nil
}

// DeleteByS3URI removes the record with the exact s3_uri.
func (s *Store) DeleteByS3URI(_ context.Context, s3URI string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byURI[s3URI]
	if !ok {
		return false, nil
	}

	return s.remove(id), nil
}

// KeywordSearch ranks records by BM25 over their canonical text, best first.
// Equal scores are ordered by insertion.
func (s *Store) KeywordSearch(_ context.Context, query string, limit int) ([]models.KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(s.rows) == 0 || limit <= 0 {
		return []models.KeywordHit{}, nil
	}

	var totalLen int
	docFreq := make(map[string]int, len(queryTerms))

	for _, r := range s.rows {
		totalLen += r.length

		for _, term := range queryTerms {
			if r.terms[term] > 0 {
				docFreq[term]++
			}
		}
	}

	n := float64(len(s.rows))
	avgLen := float64(totalLen) / n

	type scored struct {
		id    uuid.UUID
		seq   uint64
		score float64
	}

	var results []scored

	for id, r := range s.rows {
		var score float64

		for _, term := range queryTerms {
			tf := float64(r.terms[term])
			if tf == 0 {
				continue
			}

			df := float64(docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*(float64(r.length)/avgLen)
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}

		if score > 0 {
			results = append(results, scored{id: id, seq: r.seq, score: score})
		}
	}

	slices.SortFunc(results, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}

		return cmp.Compare(a.seq, b.seq)
	})

	if len(results) > limit {
		results = results[:limit]
	}

	hits := make([]models.KeywordHit, len(results))
	for i, r := range results {
		hits[i] = models.KeywordHit{ID: r.id, Rank: r.score}
	}

	return hits, nil
}

// VectorSearch returns the nearest records by cosine distance, nearest first. Ties are ordered by id.
func (s *Store) VectorSearch(_ context.Context, embedding []float32, limit int) ([]models.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []models.VectorHit{}, nil
	}

	hits := make([]models.VectorHit, 0, len(s.rows))
	for _, r := range s.rows {
		rec := cloneRecord(&r.record)
		rec.Embedding = nil
		hits = append(hits, models.VectorHit{Record: rec, Distance: CosineDistance(embedding, r.record.Embedding)})
	}

	slices.SortFunc(hits, func(a, b models.VectorHit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}

		return strings.Compare(a.Record.ID.String(), b.Record.ID.String())
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// Begin records an in-flight update marker.
func (s *Store) Begin(_ context.Context, s3URI string, fields models.ImageFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[s3URI] = models.UpdateMarker{S3URI: s3URI, Fields: fields, StartedAt: s.now()}

	return nil
}

// Clear removes the marker for s3URI.
func (s *Store) Clear(_ context.Context, s3URI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.markers, s3URI)

	return nil
}

// ListStale returns markers started before olderThan, oldest first.
func (s *Store) ListStale(_ context.Context, olderThan time.Time, limit int) ([]models.UpdateMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.UpdateMarker

	for _, m := range s.markers {
		if m.StartedAt.Before(olderThan) {
			out = append(out, m)
		}
	}

	slices.SortFunc(out, func(a, b models.UpdateMarker) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// HasMarker reports whether an update marker exists for s3URI.
func (s *Store) HasMarker(s3URI string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.markers[s3URI]

	return ok
}

// SetClock replaces the time source used for timestamps and markers.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

func (s *Store) put(rec models.ImageRecord, seq uint64) {
	tokens := tokenize(rec.CanonicalText)
	terms := make(map[string]int, len(tokens))

	for _, t := range tokens {
		terms[t]++
	}

	s.rows[rec.ID] = &row{record: rec, seq: seq, terms: terms, length: len(tokens)}
	s.byURI[rec.S3URI] = rec.ID
}

func (s *Store) remove(id uuid.UUID) bool {
	r, ok := s.rows[id]
	if !ok {
		return false
	}

	delete(s.rows, id)

	if s.byURI[r.record.S3URI] == id {
		delete(s.byURI, r.record.S3URI)
	}

	return true
}

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched or zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 1
	}

	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))

	return min(max(d, 0), 2)
}

func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})

	tokens := make([]string, 0, len(words))

	for _, word := range words {
		if len(word) < 2 || stopWords[word] {
			continue
		}

		tokens = append(tokens, word)
	}

	return tokens
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "were": true, "with": true,
	"this": true, "but": true, "tags": true,
}

func cloneRecord(rec *models.ImageRecord) models.ImageRecord {
	out := *rec
	out.Materials = slices.Clone(rec.Materials)
	out.Process = slices.Clone(rec.Process)
	out.Embedding = slices.Clone(rec.Embedding)

	return out
}

func ptr[T any](v T) *T { return &v }
