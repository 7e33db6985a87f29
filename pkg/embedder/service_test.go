package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
)

func testConfig(baseURL string, dim int) *config.Config {
	cfg := &config.Config{}
	cfg.Embedding.BaseURL = baseURL
	cfg.Embedding.Model = "test-embed"
	cfg.Embedding.Timeout = 5 * time.Second
	cfg.Embedding.EnableCache = true
	cfg.Embedding.CacheSize = 16
	cfg.Embedding.CacheTTL = time.Minute
	cfg.Qdrant.VectorDim = dim
	return cfg
}

func newEmbedServer(t *testing.T, dim int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			if calls != nil {
				calls.Add(1)
			}
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			// Deterministic vector derived from the prompt length.
			vec := make([]float32, dim)
			for i := range vec {
				vec[i] = float32(len(req.Prompt)%7) + float32(i)
			}
			_ = json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestEncodePreservesOrder(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	s := NewService(testConfig(srv.URL, 4))

	vectors, err := s.Encode(context.Background(), []string{"alpha", "beta two", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
	assert.Equal(t, float32(len("alpha")%7), vectors[0][0])
	assert.Equal(t, float32(len("beta two")%7), vectors[1][0])
}

func TestEncodeRejectsEmptyText(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	s := NewService(testConfig(srv.URL, 4))

	_, err := s.Encode(context.Background(), []string{"ok", "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = s.Encode(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestEncodeDimensionMismatch(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	// Configured for 8 dims, server returns 4.
	s := NewService(testConfig(srv.URL, 8))

	_, err := s.EncodeOne(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestEncodeUsesCache(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	s := NewService(testConfig(srv.URL, 4))

	_, err := s.EncodeOne(context.Background(), "repeated text")
	require.NoError(t, err)
	_, err = s.EncodeOne(context.Background(), "repeated text")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestEncodeUnavailable(t *testing.T) {
	s := NewService(testConfig("http://127.0.0.1:1", 4))

	_, err := s.EncodeOne(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestBatchSimilarity(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}, {0, 0}}

	scores := BatchSimilarity(query, candidates)
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.0, scores[1], 1e-9)
	assert.InDelta(t, 0.0, scores[2], 1e-9)
}

func TestHealth(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	s := NewService(testConfig(srv.URL, 4))
	assert.NoError(t, s.Health(context.Background()))

	down := NewService(testConfig("http://127.0.0.1:1", 4))
	assert.Error(t, down.Health(context.Background()))
}
