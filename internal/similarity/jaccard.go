package similarity

import (
	"context"
	"strings"
)

// JaccardBackend scores texts by token-set Jaccard overlap. It is the
// always-available floor of the backend chain and has no dependencies.
type JaccardBackend struct{}

// NewJaccardBackend creates a Jaccard backend.
func NewJaccardBackend() *JaccardBackend {
	return &JaccardBackend{}
}

// Name identifies the backend.
func (b *JaccardBackend) Name() string { return "jaccard" }

// Compute returns |A∩B| / |A∪B| over normalized token sets.
func (b *JaccardBackend) Compute(_ context.Context, a, c string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
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

	setA := tokenSet(na)
	setC := tokenSet(nc)

	intersection := 0
	for tok := range setA {
		if setC[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setC) - intersection
	if union == 0 {
		return 0
	}
	return clamp(float64(intersection) / float64(union))
}

// FindSimilar scores query against candidates at or above threshold.
func (b *JaccardBackend) FindSimilar(ctx context.Context, query string, candidates []Candidate, threshold float64) []Match {
	return findSimilar(ctx, b.Compute, query, candidates, threshold)
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
