package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments created against whichever meter provider is installed at
// first use. With OTEL disabled they are no-ops.
var (
	initOnce sync.Once

	retrievalDuration  metric.Float64Histogram
	similarityDuration metric.Float64Histogram
	deliberationRounds metric.Int64Histogram
)

func instruments() {
	initOnce.Do(func() {
		meter := Meter("shingi")
		retrievalDuration, _ = meter.Float64Histogram("shingi.retrieval.duration",
			metric.WithDescription("Graph context retrieval duration"),
			metric.WithUnit("s"))
		similarityDuration, _ = meter.Float64Histogram("shingi.similarity.duration",
			metric.WithDescription("Pairwise similarity computation duration"),
			metric.WithUnit("s"))
		deliberationRounds, _ = meter.Int64Histogram("shingi.deliberation.rounds",
			metric.WithDescription("Rounds completed per deliberation"))
	})
}

// RecordRetrieval records one graph context retrieval.
func RecordRetrieval(ctx context.Context, seconds float64, scored int) {
	instruments()
	if retrievalDuration != nil {
		retrievalDuration.Record(ctx, seconds,
			metric.WithAttributes(attribute.Int("scored", scored)))
	}
}

// RecordSimilarity records one similarity batch computation.
func RecordSimilarity(ctx context.Context, seconds float64, backend string) {
	instruments()
	if similarityDuration != nil {
		similarityDuration.Record(ctx, seconds,
			metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// RecordDeliberation records a completed deliberation's round count.
func RecordDeliberation(ctx context.Context, rounds int) {
	instruments()
	if deliberationRounds != nil {
		deliberationRounds.Record(ctx, int64(rounds))
	}
}
