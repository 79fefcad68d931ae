package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/storage"
	"github.com/shingi-ai/shingi/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestOpen_CreatesSchemaAndDirectory(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	n, err := store.CountNodes(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, store.Ping(ctx))
}

func TestSaveNode_RoundTrip(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	node := testutil.Node("Should we shard the user table?")
	node.WinningOption = ptr("yes, by tenant")
	node.Metadata = map[string]any{"rounds": float64(3)}

	id, err := store.SaveNode(ctx, node)
	require.NoError(t, err)

	got, err := store.GetNode(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, node.Question, got.Question)
	assert.Equal(t, node.Participants, got.Participants)
	require.NotNil(t, got.WinningOption)
	assert.Equal(t, "yes, by tenant", *got.WinningOption)
	assert.Equal(t, model.StatusConverged, got.ConvergenceStatus)
	assert.WithinDuration(t, node.Timestamp, got.Timestamp, time.Millisecond)
}

func TestGetNode_MissingReturnsNilNil(t *testing.T) {
	store := testutil.OpenStore(t)

	got, err := store.GetNode(context.Background(), "no-such-id")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveNode_InvalidRejectedAsIntegrity(t *testing.T) {
	store := testutil.OpenStore(t)

	node := testutil.Node("valid question here")
	node.Participants = nil
	_, err := store.SaveNode(context.Background(), node)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestSaveNode_DuplicateIDRejected(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	node := testutil.Node("unique id enforcement")
	_, err := store.SaveNode(ctx, node)
	require.NoError(t, err)

	_, err = store.SaveNode(ctx, node)
	assert.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestListNodes_NewestFirst(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	old := testutil.Node("older question")
	old.Timestamp = time.Now().Add(-time.Hour).UTC()
	_, err := store.SaveNode(ctx, old)
	require.NoError(t, err)

	recent := testutil.Node("newer question")
	_, err = store.SaveNode(ctx, recent)
	require.NoError(t, err)

	nodes, err := store.ListNodes(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "newer question", nodes[0].Question)
	assert.Equal(t, "older question", nodes[1].Question)
}

// Referential integrity: a stance must point at an existing node.
func TestSaveStance_MissingDecisionFails(t *testing.T) {
	store := testutil.OpenStore(t)

	_, err := store.SaveStance(context.Background(), model.ParticipantStance{
		DecisionID:    "ghost",
		Participant:   "a@cli",
		FinalPosition: "orphaned",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestSaveStance_TruncatesFinalPosition(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	id := testutil.SaveNode(t, store, "truncation check")
	long := make([]rune, model.MaxFinalPositionLen+100)
	for i := range long {
		long[i] = 'y'
	}
	_, err := store.SaveStance(ctx, model.ParticipantStance{
		DecisionID:    id,
		Participant:   "a@cli",
		FinalPosition: string(long),
	})
	require.NoError(t, err)

	stances, err := store.ListStances(ctx, id)
	require.NoError(t, err)
	require.Len(t, stances, 1)
	assert.Len(t, []rune(stances[0].FinalPosition), model.MaxFinalPositionLen)
}

// Upsert semantics: one row per (source, target), last score wins.
func TestSaveSimilarity_Upsert(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	src := testutil.SaveNode(t, store, "question one")
	dst := testutil.SaveNode(t, store, "question two")

	for _, score := range []float64{0.5, 0.9, 0.62} {
		err := store.SaveSimilarity(ctx, model.DecisionSimilarity{
			SourceID:        src,
			TargetID:        dst,
			SimilarityScore: score,
			ComputedAt:      time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	count, err := store.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	edges, err := store.ListEdges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.62, edges[0].SimilarityScore, 1e-9)
}

func TestSaveSimilarity_ScoreRangeEnforced(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	src := testutil.SaveNode(t, store, "range source")
	dst := testutil.SaveNode(t, store, "range target")

	err := store.SaveSimilarity(ctx, model.DecisionSimilarity{
		SourceID:        src,
		TargetID:        dst,
		SimilarityScore: 1.5,
		ComputedAt:      time.Now().UTC(),
	})
	assert.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestSaveSimilarity_MissingEndpointFails(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	src := testutil.SaveNode(t, store, "dangling edge source")
	err := store.SaveSimilarity(ctx, model.DecisionSimilarity{
		SourceID:        src,
		TargetID:        "ghost",
		SimilarityScore: 0.8,
		ComputedAt:      time.Now().UTC(),
	})
	assert.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestListSimilar_ThresholdAndOrder(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	src := testutil.SaveNode(t, store, "hub question")
	near := testutil.SaveNode(t, store, "near neighbor")
	far := testutil.SaveNode(t, store, "far neighbor")
	noise := testutil.SaveNode(t, store, "below threshold")

	for _, e := range []struct {
		target string
		score  float64
	}{{near, 0.9}, {far, 0.6}, {noise, 0.2}} {
		require.NoError(t, store.SaveSimilarity(ctx, model.DecisionSimilarity{
			SourceID: src, TargetID: e.target, SimilarityScore: e.score, ComputedAt: time.Now().UTC(),
		}))
	}

	got, err := store.ListSimilar(ctx, src, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near neighbor", got[0].Node.Question)
	assert.Equal(t, "far neighbor", got[1].Node.Question)
}

func TestCounts(t *testing.T) {
	store := testutil.OpenStore(t)
	ctx := context.Background()

	id := testutil.SaveNode(t, store, "counting nodes")
	_, err := store.SaveStance(ctx, model.ParticipantStance{
		DecisionID: id, Participant: "a@cli", FinalPosition: "x",
	})
	require.NoError(t, err)

	nodes, _ := store.CountNodes(ctx)
	stances, _ := store.CountStances(ctx)
	edges, _ := store.CountEdges(ctx)
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 1, stances)
	assert.Zero(t, edges)
	assert.Positive(t, store.DBSizeBytes())
}
