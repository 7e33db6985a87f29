package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

// maxEncodeParallelism bounds concurrent embedding requests within one batch.
const maxEncodeParallelism = 8

// Service embeds text through an Ollama-compatible HTTP endpoint, with an
// optional content-addressed cache in front of it.
type Service struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
	cache   *lru.LRU[string, []float32]
	logger  *slog.Logger
}

func NewService(cfg *config.Config) *Service {
	s := &Service{
		baseURL: strings.TrimRight(cfg.Embedding.BaseURL, "/"),
		model:   cfg.Embedding.Model,
		dim:     cfg.Qdrant.VectorDim,
		client:  &http.Client{Timeout: cfg.Embedding.Timeout},
		logger:  log.WithModule("embedder"),
	}

	if cfg.Embedding.EnableCache && cfg.Embedding.CacheSize > 0 {
		s.cache = lru.NewLRU[string, []float32](cfg.Embedding.CacheSize, nil, cfg.Embedding.CacheTTL)
	}

	return s
}

// Dimension returns the configured embedding size.
func (s *Service) Dimension() int { return s.dim }

// Encode returns one vector per input, in input order. Cached entries are
// served without a provider call; misses are fetched with bounded
// parallelism.
func (s *Service) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidInput)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: empty text at index %d", domain.ErrInvalidInput, i)
		}
	}

	vectors := make([][]float32, len(texts))
	var misses []int
	for i, text := range texts {
		if v, ok := s.cacheGet(text); ok {
			vectors[i] = v
		} else {
			misses = append(misses, i)
		}
	}

	if len(misses) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxEncodeParallelism)
		for _, idx := range misses {
			g.Go(func() error {
				v, err := s.embed(gctx, texts[idx])
				if err != nil {
					return err
				}
				vectors[idx] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, idx := range misses {
			s.cachePut(texts[idx], vectors[idx])
		}
	}

	return vectors, nil
}

// EncodeOne embeds a single text.
func (s *Service) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Health probes the embedding endpoint.
func (s *Service) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: embedding endpoint unreachable: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: embedding endpoint returned %d", domain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: s.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: embedding call: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: embedding call failed: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: embedding endpoint returned %d: %s", domain.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("%w: malformed embedding response: %v", domain.ErrInternal, err)
	}

	if len(er.Embedding) != s.dim {
		return nil, fmt.Errorf("%w: embedding dimension %d does not match configured %d",
			domain.ErrInvalidInput, len(er.Embedding), s.dim)
	}

	return er.Embedding, nil
}

func (s *Service) cacheKey(text string) string {
	h := sha256.Sum256([]byte(s.model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func (s *Service) cacheGet(text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(s.cacheKey(text))
}

func (s *Service) cachePut(text string, v []float32) {
	if s.cache == nil {
		return
	}
	s.cache.Add(s.cacheKey(text), v)
}

// Similarity computes cosine similarity. Zero-norm vectors yield 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// BatchSimilarity computes cosine similarity of a query against each
// candidate.
func BatchSimilarity(query []float32, candidates [][]float32) []float64 {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = Similarity(query, c)
	}
	return scores
}
