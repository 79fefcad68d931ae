package embedding_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/embedding"
)

func TestNoopProvider(t *testing.T) {
	p := embedding.NewNoopProvider(8)
	assert.False(t, p.Live())
	assert.Equal(t, 8, p.Dimensions())

	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
}

func ollamaServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			if calls != nil {
				calls.Add(1)
			}
			var req struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-embed", req.Model)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"embedding": []float32{0.1, 0.2, 0.3},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaProvider_Embed(t *testing.T) {
	srv := ollamaServer(t, nil)
	defer srv.Close()

	p := embedding.NewOllamaProvider(srv.URL, "test-embed", 3)
	assert.True(t, p.Live())

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	var calls atomic.Int64
	srv := ollamaServer(t, &calls)
	defer srv.Close()

	p := embedding.NewOllamaProvider(srv.URL, "test-embed", 3)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int64(3), calls.Load())

	empty, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := embedding.NewOllamaProvider(srv.URL, "test-embed", 3)
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaProvider_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer srv.Close()

	p := embedding.NewOllamaProvider(srv.URL, "test-embed", 3)
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}

func TestReachable(t *testing.T) {
	srv := ollamaServer(t, nil)
	assert.True(t, embedding.Reachable(srv.URL))
	srv.Close()
	assert.False(t, embedding.Reachable(srv.URL))
}
