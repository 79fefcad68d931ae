package similarity

import (
	"context"
	"log/slog"
	"math"
)

// EmbeddingBackend scores texts by cosine similarity of embedding vectors.
// Vectors are cached by normalized text in the L2 layer, so repeated
// comparisons against the same corpus only embed each text once.
type EmbeddingBackend struct {
	provider EmbeddingSource
	vectors  VectorCache
	logger   *slog.Logger
}

// NewEmbeddingBackend creates an embedding-cosine backend. vectors may be
// nil, in which case every call embeds afresh.
func NewEmbeddingBackend(provider EmbeddingSource, vectors VectorCache, logger *slog.Logger) *EmbeddingBackend {
	return &EmbeddingBackend{provider: provider, vectors: vectors, logger: logger}
}

// Name identifies the backend.
func (b *EmbeddingBackend) Name() string { return "embedding" }

// Compute returns the embedding cosine of a and c. Any provider failure
// is swallowed and scored 0.0.
func (b *EmbeddingBackend) Compute(ctx context.Context, a, c string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("similarity: embedding compute panicked", "panic", r)
			score = 0
		}
	}()

	na, nc := Normalize(a), Normalize(c)
	if na == "" || nc == "" {
		return 0
	}
	if na == nc {
		return 1
	}

	va, err := b.vector(ctx, na)
	if err != nil {
		b.logger.Warn("similarity: embed failed", "error", err)
		return 0
	}
	vc, err := b.vector(ctx, nc)
	if err != nil {
		b.logger.Warn("similarity: embed failed", "error", err)
		return 0
	}
	return clamp(CosineSimilarity(va, vc))
}

// FindSimilar scores query against candidates at or above threshold.
func (b *EmbeddingBackend) FindSimilar(ctx context.Context, query string, candidates []Candidate, threshold float64) []Match {
	return findSimilar(ctx, b.Compute, query, candidates, threshold)
}

// vector returns the embedding for normalized text, consulting the L2
// cache first.
func (b *EmbeddingBackend) vector(ctx context.Context, normalized string) ([]float32, error) {
	if b.vectors != nil {
		if vec, ok := b.vectors.Get(normalized); ok {
			return vec, nil
		}
	}
	vec, err := b.provider.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if b.vectors != nil {
		b.vectors.Put(normalized, vec)
	}
	return vec, nil
}

// CosineSimilarity computes the cosine of two vectors, 0 when either has
// zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
