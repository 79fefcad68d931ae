// Package similarity scores the semantic closeness of two texts in [0,1].
//
// Three backends are provided, selected at startup in preference order:
// embedding cosine (when an embedding provider is live), TF-IDF cosine,
// and token Jaccard (always available, no external dependency). Every
// backend is symmetric, returns 1.0 on identical normalized inputs, and
// 0.0 when either input normalizes to empty.
package similarity

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Match is one scored candidate from FindSimilar.
type Match struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
}

// Candidate is an input to FindSimilar.
type Candidate struct {
	ID       string
	Question string
}

// Backend scores text pairs. Implementations must be symmetric within
// float tolerance and must never propagate internal failures: Compute
// returns 0.0 instead.
type Backend interface {
	// Compute returns the similarity of a and b in [0.0, 1.0].
	Compute(ctx context.Context, a, b string) float64

	// FindSimilar scores query against every candidate and returns the
	// matches at or above threshold, sorted by score descending.
	// Candidates whose normalized question is empty are skipped.
	FindSimilar(ctx context.Context, query string, candidates []Candidate, threshold float64) []Match

	// Name identifies the backend for logging.
	Name() string
}

// VectorCache caches embedding vectors by normalized text. Satisfied by
// the L2 cache layer.
type VectorCache interface {
	Get(normalizedText string) ([]float32, bool)
	Put(normalizedText string, vec []float32)
}

// EmbeddingSource is the subset of the embedding provider the embedding
// backend needs.
type EmbeddingSource interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Live() bool
}

// Select picks a backend. kind may force "embedding", "tfidf", or
// "jaccard"; anything else ("auto") walks the preference chain: embedding
// when the provider is live, then TF-IDF, then Jaccard. Selection never
// fails; Jaccard is the dependency-free floor.
func Select(kind string, provider EmbeddingSource, vectors VectorCache, logger *slog.Logger) Backend {
	switch kind {
	case "embedding":
		if provider == nil || !provider.Live() {
			logger.Warn("similarity: embedding backend forced but provider not live, using tf-idf")
			return NewTFIDFBackend(logger)
		}
		return NewEmbeddingBackend(provider, vectors, logger)
	case "tfidf":
		return NewTFIDFBackend(logger)
	case "jaccard":
		return NewJaccardBackend()
	}

	if provider != nil && provider.Live() {
		logger.Info("similarity: embedding backend selected")
		return NewEmbeddingBackend(provider, vectors, logger)
	}
	logger.Info("similarity: embedding provider unavailable, using tf-idf")
	return NewTFIDFBackend(logger)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize lowercases, collapses internal whitespace, and trims.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

// findSimilar implements the shared FindSimilar contract on top of a
// pairwise compute function.
func findSimilar(ctx context.Context, compute func(ctx context.Context, a, b string) float64,
	query string, candidates []Candidate, threshold float64) []Match {

	if Normalize(query) == "" {
		return nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if Normalize(c.Question) == "" {
			continue
		}
		score := compute(ctx, query, c.Question)
		if score >= threshold {
			matches = append(matches, Match{ID: c.ID, Question: c.Question, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// clamp bounds a score to [0,1]; float error can nudge cosine past 1.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
