package similarity

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// TFIDFBackend scores texts by cosine similarity of TF-IDF weighted term
// vectors. Used when no embedding provider is live.
//
// For pairwise Compute the corpus is just the two documents, with a
// smoothed IDF (log(1 + N/df)) so terms shared by both documents still
// carry weight. FindSimilar builds its IDF over the query plus every
// candidate, which gives rare terms more discriminative power.
type TFIDFBackend struct {
	logger *slog.Logger
}

// NewTFIDFBackend creates a TF-IDF backend.
func NewTFIDFBackend(logger *slog.Logger) *TFIDFBackend {
	return &TFIDFBackend{logger: logger}
}

// Name identifies the backend.
func (b *TFIDFBackend) Name() string { return "tfidf" }

// Compute returns the TF-IDF cosine of a and c in [0,1].
func (b *TFIDFBackend) Compute(_ context.Context, a, c string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("similarity: tfidf compute panicked", "panic", r)
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

	docA, docC := terms(na), terms(nc)
	idf := corpusIDF([][]string{docA, docC})
	return clamp(cosineMaps(tfidfVector(docA, idf), tfidfVector(docC, idf)))
}

// FindSimilar scores query against candidates with a corpus-wide IDF.
func (b *TFIDFBackend) FindSimilar(_ context.Context, query string, candidates []Candidate, threshold float64) []Match {
	nq := Normalize(query)
	if nq == "" {
		return nil
	}

	docs := make([][]string, 0, len(candidates)+1)
	queryDoc := terms(nq)
	docs = append(docs, queryDoc)

	type entry struct {
		cand Candidate
		doc  []string
	}
	entries := make([]entry, 0, len(candidates))
	for _, c := range candidates {
		n := Normalize(c.Question)
		if n == "" {
			continue
		}
		doc := terms(n)
		docs = append(docs, doc)
		entries = append(entries, entry{cand: c, doc: doc})
	}

	idf := corpusIDF(docs)
	queryVec := tfidfVector(queryDoc, idf)

	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		var score float64
		if Normalize(e.cand.Question) == nq {
			score = 1
		} else {
			score = clamp(cosineMaps(queryVec, tfidfVector(e.doc, idf)))
		}
		if score >= threshold {
			matches = append(matches, Match{ID: e.cand.ID, Question: e.cand.Question, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func terms(normalized string) []string {
	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// corpusIDF computes log(1 + N/df) per term across docs.
func corpusIDF(docs [][]string) map[string]float64 {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, t := range doc {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log(1 + n/float64(d))
	}
	return idf
}

func tfidfVector(doc []string, idf map[string]float64) map[string]float64 {
	if len(doc) == 0 {
		return nil
	}
	counts := make(map[string]int, len(doc))
	for _, t := range doc {
		counts[t]++
	}
	vec := make(map[string]float64, len(counts))
	for t, c := range counts {
		vec[t] = (float64(c) / float64(len(doc))) * idf[t]
	}
	return vec
}

func cosineMaps(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for t, va := range a {
		normA += va * va
		if vb, ok := b[t]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
