package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/prompt"
)

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, e.err
}

func (e *stubEmbedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

type stubStore struct {
	hits      []domain.SearchResult
	err       error
	lastTopK  int
	lastScore float64
}

func (s *stubStore) Search(ctx context.Context, vector []float32, topK int, minScore float64, filter *domain.SearchFilter) ([]domain.SearchResult, error) {
	s.lastTopK = topK
	s.lastScore = minScore
	return s.hits, s.err
}

func (s *stubStore) Upsert(ctx context.Context, chunk domain.Chunk) error { return nil }
func (s *stubStore) UpsertBatch(ctx context.Context, chunks []domain.Chunk) (*domain.BatchResult, error) {
	return &domain.BatchResult{}, nil
}
func (s *stubStore) Get(ctx context.Context, id string) (*domain.Chunk, error) { return nil, nil }
func (s *stubStore) Delete(ctx context.Context, id string) error              { return nil }
func (s *stubStore) DeleteBySource(ctx context.Context, sourceFile string) (int, error) {
	return 0, nil
}
func (s *stubStore) BatchSearch(ctx context.Context, vectors [][]float32, topK int, minScore float64, filter *domain.SearchFilter) ([][]domain.SearchResult, error) {
	return nil, nil
}
func (s *stubStore) List(ctx context.Context, limit, offset int) ([]domain.DocumentSummary, error) {
	return nil, nil
}
func (s *stubStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	return &domain.StoreStats{}, nil
}
func (s *stubStore) Clear(ctx context.Context) error { return nil }

type stubGenerator struct {
	text       string
	chunks     []string
	err        error
	lastPrompt string
}

func (g *stubGenerator) Generate(ctx context.Context, promptText string, opts *domain.GenerationOptions) (*domain.LLMResponse, error) {
	g.lastPrompt = promptText
	if g.err != nil {
		return nil, g.err
	}
	return &domain.LLMResponse{Text: g.text, Provider: "ollama", ModelName: "test-model", TokensUsed: 42}, nil
}

func (g *stubGenerator) Stream(ctx context.Context, promptText string, opts *domain.GenerationOptions, callback func(string)) error {
	g.lastPrompt = promptText
	if g.err != nil {
		return g.err
	}
	for _, chunk := range g.chunks {
		callback(chunk)
	}
	return nil
}

func ragConfig() *config.Config {
	cfg := &config.Config{}
	cfg.RAG.TopK = 5
	cfg.RAG.ScoreThreshold = 0.7
	cfg.RAG.MaxContextChars = 4000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxTokens = 1024
	return cfg
}

func sampleHits() []domain.SearchResult {
	return []domain.SearchResult{
		{ChunkID: "a", Text: "Kubernetes schedules containers across cluster nodes.", Score: 0.95, SourceFile: "guide.md", ChunkIndex: 0},
		{ChunkID: "b", Text: "Pods are the smallest deployable units in Kubernetes.", Score: 0.82, SourceFile: "intro.txt", ChunkIndex: 3},
	}
}

func newTestService(t *testing.T, store *stubStore, gen *stubGenerator) *Service {
	t.Helper()
	prompts, err := prompt.NewService(&config.Config{})
	require.NoError(t, err)
	return NewService(ragConfig(), &stubEmbedder{}, store, gen, prompts)
}

func TestQueryHappyPath(t *testing.T) {
	store := &stubStore{hits: sampleHits()}
	gen := &stubGenerator{text: "Kubernetes schedules containers onto nodes and groups them into pods."}
	s := newTestService(t, store, gen)

	resp, err := s.Query(context.Background(), domain.RAGQuery{Query: "What is Kubernetes?", IncludeSources: true})
	require.NoError(t, err)

	assert.Equal(t, domain.RAGStatusOK, resp.Status)
	assert.Equal(t, gen.text, resp.Answer)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Len(t, resp.Sources, 2)
	assert.Contains(t, resp.Sources[0], "guide.md#0")

	// Defaults reached the store.
	assert.Equal(t, 5, store.lastTopK)
	assert.InDelta(t, 0.7, store.lastScore, 1e-9)

	// Prompt carried the formatted context.
	assert.Contains(t, gen.lastPrompt, "Document 1: guide.md (Relevance: 0.950)")
	assert.Contains(t, gen.lastPrompt, "What is Kubernetes?")

	assert.Equal(t, 2, resp.Metadata["documents_retrieved"])
	assert.Equal(t, domain.ValidationValid, resp.Metadata["validation_status"])

	m := s.Metrics()
	assert.Equal(t, 1, m.TotalQueries)
	assert.Equal(t, 1, m.SuccessfulQueries)
	assert.Equal(t, 0, m.FailedQueries)
	assert.InDelta(t, 2, m.AvgDocumentsRetrieved, 1e-9)
}

func TestQueryNoResults(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{text: "unused"})

	resp, err := s.Query(context.Background(), domain.RAGQuery{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, domain.RAGStatusNoResults, resp.Status)
	assert.True(t, strings.HasPrefix(resp.Answer, "I couldn't find"))
	assert.Empty(t, resp.Sources)
	assert.Empty(t, resp.Context.AssembledText)
}

func TestQueryRetrievalFailure(t *testing.T) {
	store := &stubStore{err: errors.New("connection refused")}
	s := newTestService(t, store, &stubGenerator{})

	_, err := s.Query(context.Background(), domain.RAGQuery{Query: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)

	m := s.Metrics()
	assert.Equal(t, 1, m.FailedQueries)
}

func TestQueryGenerationFailureReturnsMessage(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model exploded")}
	s := newTestService(t, &stubStore{hits: sampleHits()}, gen)

	resp, err := s.Query(context.Background(), domain.RAGQuery{Query: "What is Kubernetes?"})
	require.NoError(t, err)
	assert.Equal(t, domain.RAGStatusError, resp.Status)
	assert.Contains(t, resp.Answer, "Sorry, I encountered an error")
	assert.Contains(t, resp.Answer, "model exploded")

	m := s.Metrics()
	assert.Equal(t, 1, m.FailedQueries)
}

func TestQueryExcludesSourcesByDefault(t *testing.T) {
	s := newTestService(t, &stubStore{hits: sampleHits()}, &stubGenerator{text: "Kubernetes answer about pods."})

	resp, err := s.Query(context.Background(), domain.RAGQuery{Query: "What is Kubernetes?"})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
}

func TestAssembleContextOrdersByScore(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{})

	hits := []domain.SearchResult{
		{Text: "low score text here", Score: 0.71, SourceFile: "b.txt", ChunkIndex: 1},
		{Text: "high score text here", Score: 0.99, SourceFile: "a.txt", ChunkIndex: 0},
	}
	q := domain.RAGQuery{Query: "q", MaxContextChars: 4000}
	ragCtx := s.assembleContext(&q, hits)

	assert.True(t, strings.Index(ragCtx.AssembledText, "high score") < strings.Index(ragCtx.AssembledText, "low score"))
	assert.Equal(t, []float64{0.99, 0.71}, ragCtx.RelevanceScores)
	assert.Equal(t, []string{"a.txt", "b.txt"}, ragCtx.SourceFiles)
}

func TestAssembleContextTruncatesAtBudget(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{})

	hits := []domain.SearchResult{
		{Text: strings.Repeat("a", 300), Score: 0.9, SourceFile: "a.txt"},
		{Text: strings.Repeat("b", 300), Score: 0.8, SourceFile: "b.txt"},
	}
	q := domain.RAGQuery{Query: "q", MaxContextChars: 450}
	ragCtx := s.assembleContext(&q, hits)

	// Second chunk is truncated to the 150 remaining chars plus ellipsis.
	assert.Len(t, ragCtx.RelevanceScores, 2)
	assert.Contains(t, ragCtx.AssembledText, strings.Repeat("b", 150)+"...")
	assert.NotContains(t, ragCtx.AssembledText, strings.Repeat("b", 151))
	assert.Equal(t, 300+153, ragCtx.ContextLength)
}

func TestAssembleContextTruncatesOnRuneBoundary(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{})

	// Three-byte runes, so most byte budgets land inside a rune.
	hits := []domain.SearchResult{
		{Text: strings.Repeat("あ", 200), Score: 0.9, SourceFile: "jp.txt"},
	}
	q := domain.RAGQuery{Query: "q", MaxContextChars: 200}
	ragCtx := s.assembleContext(&q, hits)

	assert.True(t, utf8.ValidString(ragCtx.AssembledText))
	assert.Contains(t, ragCtx.AssembledText, "...")
}

func TestAssembleContextSkipsTinyRemainder(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{})

	hits := []domain.SearchResult{
		{Text: strings.Repeat("a", 300), Score: 0.9, SourceFile: "a.txt"},
		{Text: strings.Repeat("b", 300), Score: 0.8, SourceFile: "b.txt"},
	}
	q := domain.RAGQuery{Query: "q", MaxContextChars: 350}
	ragCtx := s.assembleContext(&q, hits)

	// Only 50 chars of budget remain, below the useful minimum.
	assert.Len(t, ragCtx.RelevanceScores, 1)
	assert.NotContains(t, ragCtx.AssembledText, "b")
	assert.Equal(t, 300, ragCtx.ContextLength)
}

func TestQueryStream(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"Kubernetes ", "runs ", "pods."}}
	s := newTestService(t, &stubStore{hits: sampleHits()}, gen)

	var got string
	err := s.QueryStream(context.Background(), domain.RAGQuery{Query: "What is Kubernetes?"}, func(chunk string) {
		got += chunk
	})
	require.NoError(t, err)
	assert.Equal(t, "Kubernetes runs pods.", got)
	assert.Contains(t, gen.lastPrompt, "Document 1:")

	m := s.Metrics()
	assert.Equal(t, 1, m.SuccessfulQueries)
}

func TestQueryStreamNoResults(t *testing.T) {
	s := newTestService(t, &stubStore{}, &stubGenerator{})

	var got string
	err := s.QueryStream(context.Background(), domain.RAGQuery{Query: "anything"}, func(chunk string) {
		got += chunk
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "I couldn't find"))
}

func TestQueryStreamGenerationFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("stream broke")}
	s := newTestService(t, &stubStore{hits: sampleHits()}, gen)

	err := s.QueryStream(context.Background(), domain.RAGQuery{Query: "q"}, func(string) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}
