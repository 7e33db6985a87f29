package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/domain"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			var req ollamaRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			if !req.Stream {
				_ = json.NewEncoder(w).Encode(ollamaResponse{
					Model:     req.Model,
					Response:  "full answer",
					Done:      true,
					EvalCount: 7,
				})
				return
			}

			flusher := w.(http.Flusher)
			for _, token := range []string{"str", "eamed ", "answer"} {
				line, _ := json.Marshal(ollamaResponse{Model: req.Model, Response: token})
				fmt.Fprintf(w, "%s\n", line)
				flusher.Flush()
			}
			line, _ := json.Marshal(ollamaResponse{Model: req.Model, Done: true, EvalCount: 3})
			fmt.Fprintf(w, "%s\n", line)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOllamaGenerate(t *testing.T) {
	srv := newOllamaServer(t)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model", 5*time.Second)

	resp, err := p.Generate(context.Background(), "hi", &domain.GenerationOptions{Temperature: 0.5, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "full answer", resp.Text)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, "test-model", resp.ModelName)
	assert.Equal(t, 7, resp.TokensUsed)
}

func TestOllamaStream(t *testing.T) {
	srv := newOllamaServer(t)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model", 5*time.Second)

	var chunks []string
	err := p.Stream(context.Background(), "hi", nil, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"str", "eamed ", "answer"}, chunks)
}

func TestOllamaUnreachable(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "test-model", time.Second)

	_, err := p.Generate(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	assert.Error(t, p.Health(context.Background()))
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model", time.Second)

	_, err := p.Generate(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaStreamCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		line, _ := json.Marshal(ollamaResponse{Response: "first"})
		fmt.Fprintf(w, "%s\n", line)
		w.(http.Flusher).Flush()
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOllamaProvider(srv.URL, "test-model", time.Second)

	err := p.Stream(ctx, "hi", nil, func(chunk string) {
		cancel()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
