// Package ranking fuses keyword and semantic candidate lists into one ordered result list.
package ranking

import (
	"cmp"
	"slices"
)

// KeywordBoost is the largest distance reduction a keyword match can earn (at keyword rank 1).
const KeywordBoost = 0.3

// FetchMultiplier is how many candidates per requested result are pulled from each index.
const FetchMultiplier = 3

// FetchK returns the number of candidates to request from each index for k results.
func FetchK(k int) int {
	return FetchMultiplier * k
}

// Semantic is one vector-index candidate.
type Semantic[K comparable] struct {
	Key      K
	Distance float64
}

// Result is one fused candidate.
// KeywordRank is the 1-based position in the keyword list, or 0 when the key had no keyword match.
type Result[K comparable] struct {
	Key              K
	Distance         float64
	AdjustedDistance float64
	KeywordRank      int
}

// Fuse re-ranks the semantic candidates using the keyword ranking and returns at most k results
// sorted by adjusted distance ascending.
//
// semantic must be ordered by distance ascending and keyword by relevance descending.
// Only semantic candidates can appear in the output: a key found by the keyword index alone is dropped.
// A semantic candidate at keyword rank r gets adjusted = max(0, distance - KeywordBoost/r).
// Ties keep the semantic order. If a key repeats in semantic, the first occurrence wins.
func Fuse[K comparable](semantic []Semantic[K], keyword []K, k int) []Result[K] {
	if k <= 0 || len(semantic) == 0 {
		return []Result[K]{}
	}

	keywordRank := make(map[K]int, len(keyword))
	for i, key := range keyword {
		if _, seen := keywordRank[key]; !seen {
			keywordRank[key] = i + 1
		}
	}

	seen := make(map[K]struct{}, len(semantic))
	results := make([]Result[K], 0, len(semantic))

	for _, c := range semantic {
		if _, dup := seen[c.Key]; dup {
			continue
		}

		seen[c.Key] = struct{}{}

		res := Result[K]{Key: c.Key, Distance: c.Distance, AdjustedDistance: c.Distance}
		if r, ok := keywordRank[c.Key]; ok {
			res.KeywordRank = r
			res.AdjustedDistance = Boost(c.Distance, r)
		}

		results = append(results, res)
	}

	slices.SortStableFunc(results, func(a, b Result[K]) int {
		return cmp.Compare(a.AdjustedDistance, b.AdjustedDistance)
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// Boost applies the keyword boost for a 1-based keyword rank. Ranks below 1 leave distance unchanged.
func Boost(distance float64, rank int) float64 {
	if rank < 1 {
		return distance
	}

	return max(0, distance-KeywordBoost/float64(rank))
}

// SemanticOnly converts semantic candidates to results without any keyword influence, keeping at most k.
func SemanticOnly[K comparable](semantic []Semantic[K], k int) []Result[K] {
	return Fuse(semantic, nil, k)
}
