package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
	"github.com/zerorag/zerorag/pkg/prompt"
)

const (
	noResultsAnswer = "I couldn't find any relevant information in the available documents to answer your question. Please try rephrasing your query or ask about a different topic."

	// Minimum leftover budget worth filling with a truncated chunk.
	minTruncatedChars = 100

	// Long chunk texts are previewed in source attributions.
	sourcePreviewChars = 200
)

// Metrics are rolling pipeline counters and running averages.
type Metrics struct {
	TotalQueries          int     `json:"total_queries"`
	SuccessfulQueries     int     `json:"successful_queries"`
	FailedQueries         int     `json:"failed_queries"`
	AvgResponseTime       float64 `json:"avg_response_time"`
	AvgRetrievalTime      float64 `json:"avg_retrieval_time"`
	AvgGenerationTime     float64 `json:"avg_generation_time"`
	AvgContextLength      float64 `json:"avg_context_length"`
	AvgDocumentsRetrieved float64 `json:"avg_documents_retrieved"`
	AvgSafetyScore        float64 `json:"avg_safety_score"`
	ValidationWarnings    int     `json:"validation_warnings"`
	ValidationErrors      int     `json:"validation_errors"`
}

// Service runs the retrieval-augmented generation pipeline: embed the query,
// search the store, assemble a bounded context, build the prompt, generate,
// and validate.
type Service struct {
	cfg       *config.Config
	embedder  domain.Embedder
	store     domain.VectorStore
	generator domain.Generator
	prompts   *prompt.Service
	logger    *slog.Logger

	mu      sync.Mutex
	metrics Metrics

	totalResponseTime   float64
	totalRetrievalTime  float64
	totalGenerationTime float64
	totalContextLength  float64
	totalDocuments      float64
	totalSafetyScore    float64
}

func NewService(cfg *config.Config, embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, prompts *prompt.Service) *Service {
	return &Service{
		cfg:       cfg,
		embedder:  embedder,
		store:     store,
		generator: generator,
		prompts:   prompts,
		logger:    log.WithModule("rag"),
		metrics:   Metrics{AvgSafetyScore: 1.0},
	}
}

func (s *Service) applyDefaults(q *domain.RAGQuery) {
	if q.TopK <= 0 {
		q.TopK = s.cfg.RAG.TopK
	}
	if q.ScoreThreshold <= 0 {
		q.ScoreThreshold = s.cfg.RAG.ScoreThreshold
	}
	if q.MaxContextChars <= 0 {
		q.MaxContextChars = s.cfg.RAG.MaxContextChars
	}
	if q.Temperature <= 0 {
		q.Temperature = s.cfg.LLM.Temperature
	}
	if q.MaxTokens <= 0 {
		q.MaxTokens = s.cfg.LLM.MaxTokens
	}
	if q.SafetyLevel == "" {
		q.SafetyLevel = domain.SafetyStandard
	}
}

// Query runs the full pipeline for one request. Retrieval failures return an
// error; generation failures return a user-facing error answer instead.
func (s *Service) Query(ctx context.Context, q domain.RAGQuery) (*domain.RAGResponse, error) {
	start := time.Now()
	s.applyDefaults(&q)
	s.logger.Info("processing rag query", "query", truncate(q.Query, 100))

	retrievalStart := time.Now()
	hits, err := s.retrieve(ctx, &q)
	retrievalTime := time.Since(retrievalStart)
	if err != nil {
		s.recordFailure()
		return nil, err
	}
	if len(hits) == 0 {
		return s.noResultsResponse(&q, start), nil
	}

	ragCtx := s.assembleContext(&q, hits)
	promptText := s.prompts.CreatePrompt(&q, ragCtx)

	generationStart := time.Now()
	llmResp, err := s.generator.Generate(ctx, promptText, &domain.GenerationOptions{
		Temperature: q.Temperature,
		MaxTokens:   q.MaxTokens,
	})
	generationTime := time.Since(generationStart)
	if err != nil {
		s.logger.Error("generation failed", "error", err)
		s.recordFailure()
		return s.errorResponse(&q, err, start), nil
	}

	status, safetyScore := s.prompts.ValidateResponse(llmResp.Text, q.Query, ragCtx)
	resp := s.buildResponse(&q, ragCtx, llmResp, status, safetyScore, time.Since(start))
	s.recordSuccess(resp.ResponseTime, retrievalTime, generationTime, ragCtx, status, safetyScore)

	s.logger.Info("rag query completed",
		"response_time", resp.ResponseTime,
		"documents", len(ragCtx.Chunks),
		"validation", status)
	return resp, nil
}

// QueryStream runs the pipeline through prompt construction, then forwards
// generation chunks verbatim through callback. Validation is skipped; the
// full response is not buffered.
func (s *Service) QueryStream(ctx context.Context, q domain.RAGQuery, callback func(string)) error {
	start := time.Now()
	s.applyDefaults(&q)
	s.logger.Info("processing streaming rag query", "query", truncate(q.Query, 100))

	retrievalStart := time.Now()
	hits, err := s.retrieve(ctx, &q)
	retrievalTime := time.Since(retrievalStart)
	if err != nil {
		s.recordFailure()
		return err
	}
	if len(hits) == 0 {
		callback(noResultsAnswer)
		return nil
	}

	ragCtx := s.assembleContext(&q, hits)
	promptText := s.prompts.CreatePrompt(&q, ragCtx)

	err = s.generator.Stream(ctx, promptText, &domain.GenerationOptions{
		Temperature: q.Temperature,
		MaxTokens:   q.MaxTokens,
	}, callback)
	if err != nil {
		s.logger.Error("streaming generation failed", "error", err)
		s.recordFailure()
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	elapsed := time.Since(start)
	s.recordSuccess(elapsed, retrievalTime, elapsed-retrievalTime, ragCtx, domain.ValidationValid, 1.0)
	return nil
}

// Metrics returns a snapshot of the rolling counters.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Service) retrieve(ctx context.Context, q *domain.RAGQuery) ([]domain.SearchResult, error) {
	vector, err := s.embedder.EncodeOne(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", domain.ErrRetrievalFailed, err)
	}

	hits, err := s.store.Search(ctx, vector, q.TopK, q.ScoreThreshold, q.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalFailed, err)
	}
	s.logger.Debug("retrieved documents", "count", len(hits))
	return hits, nil
}

// assembleContext packs chunk texts into the character budget in score
// order. When a chunk overflows the budget, a truncated tail is included
// only if at least minTruncatedChars of budget remain.
func (s *Service) assembleContext(q *domain.RAGQuery, hits []domain.SearchResult) *domain.RAGContext {
	sorted := make([]domain.SearchResult, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var parts []string
	var sourceFiles []string
	var scores []float64
	seen := make(map[string]bool)
	totalLength := 0

	for _, hit := range sorted {
		text := hit.Text
		if totalLength+len(text) > q.MaxContextChars {
			remaining := q.MaxContextChars - totalLength
			if remaining <= minTruncatedChars {
				break
			}
			text = truncate(text, remaining)
			parts = append(parts, contextBlock(hit, text))
			scores = append(scores, hit.Score)
			if !seen[hit.SourceFile] {
				seen[hit.SourceFile] = true
				sourceFiles = append(sourceFiles, hit.SourceFile)
			}
			totalLength += len(text)
			break
		}

		parts = append(parts, contextBlock(hit, text))
		scores = append(scores, hit.Score)
		if !seen[hit.SourceFile] {
			seen[hit.SourceFile] = true
			sourceFiles = append(sourceFiles, hit.SourceFile)
		}
		totalLength += len(text)
	}

	return &domain.RAGContext{
		Query:           q.Query,
		Chunks:          sorted,
		AssembledText:   strings.Join(parts, "\n"),
		ContextLength:   totalLength,
		SourceFiles:     sourceFiles,
		RelevanceScores: scores,
	}
}

func contextBlock(hit domain.SearchResult, text string) string {
	return fmt.Sprintf("Source: %s\n%d\n%s\n", hit.SourceFile, hit.ChunkIndex, text)
}

func (s *Service) buildResponse(q *domain.RAGQuery, ragCtx *domain.RAGContext, llmResp *domain.LLMResponse, status domain.ValidationStatus, safetyScore float64, elapsed time.Duration) *domain.RAGResponse {
	resp := &domain.RAGResponse{
		Answer:       llmResp.Text,
		Context:      ragCtx,
		Status:       domain.RAGStatusOK,
		ResponseTime: elapsed,
		TokensUsed:   llmResp.TokensUsed,
		Metadata: map[string]interface{}{
			"provider":            llmResp.Provider,
			"model_name":          llmResp.ModelName,
			"context_length":      ragCtx.ContextLength,
			"documents_retrieved": len(ragCtx.Chunks),
			"avg_relevance_score": avgScore(ragCtx.RelevanceScores),
			"validation_status":   status,
			"safety_score":        safetyScore,
		},
	}
	if q.IncludeSources {
		resp.Sources = sourceAttributions(ragCtx.Chunks)
	}
	return resp
}

// sourceAttributions renders one "file#chunk (score): preview" line per
// retrieved chunk.
func sourceAttributions(chunks []domain.SearchResult) []string {
	sources := make([]string, len(chunks))
	for i, chunk := range chunks {
		sources[i] = fmt.Sprintf("%s#%d (%.3f): %s",
			chunk.SourceFile, chunk.ChunkIndex, chunk.Score, truncate(chunk.Text, sourcePreviewChars))
	}
	return sources
}

func (s *Service) noResultsResponse(q *domain.RAGQuery, start time.Time) *domain.RAGResponse {
	s.logger.Warn("no relevant documents found", "query", truncate(q.Query, 100))
	return &domain.RAGResponse{
		Answer:       noResultsAnswer,
		Context:      &domain.RAGContext{Query: q.Query},
		Status:       domain.RAGStatusNoResults,
		ResponseTime: time.Since(start),
		Metadata:     map[string]interface{}{"status": domain.RAGStatusNoResults},
	}
}

func (s *Service) errorResponse(q *domain.RAGQuery, err error, start time.Time) *domain.RAGResponse {
	return &domain.RAGResponse{
		Answer:       fmt.Sprintf("Sorry, I encountered an error while processing your query: %v. Please try again later.", err),
		Context:      &domain.RAGContext{Query: q.Query},
		Status:       domain.RAGStatusError,
		ResponseTime: time.Since(start),
		Metadata:     map[string]interface{}{"status": domain.RAGStatusError, "error": err.Error()},
	}
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TotalQueries++
	s.metrics.FailedQueries++
}

func (s *Service) recordSuccess(responseTime, retrievalTime, generationTime time.Duration, ragCtx *domain.RAGContext, status domain.ValidationStatus, safetyScore float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalQueries++
	s.metrics.SuccessfulQueries++

	s.totalResponseTime += responseTime.Seconds()
	s.totalRetrievalTime += retrievalTime.Seconds()
	s.totalGenerationTime += generationTime.Seconds()
	s.totalContextLength += float64(ragCtx.ContextLength)
	s.totalDocuments += float64(len(ragCtx.Chunks))
	s.totalSafetyScore += safetyScore

	n := float64(s.metrics.SuccessfulQueries)
	s.metrics.AvgResponseTime = s.totalResponseTime / n
	s.metrics.AvgRetrievalTime = s.totalRetrievalTime / n
	s.metrics.AvgGenerationTime = s.totalGenerationTime / n
	s.metrics.AvgContextLength = s.totalContextLength / n
	s.metrics.AvgDocumentsRetrieved = s.totalDocuments / n
	s.metrics.AvgSafetyScore = s.totalSafetyScore / n

	switch status {
	case domain.ValidationWarning:
		s.metrics.ValidationWarnings++
	case domain.ValidationError:
		s.metrics.ValidationErrors++
	}
}

func avgScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, score := range scores {
		sum += score
	}
	return sum / float64(len(scores))
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 rune,
// then appends "...".
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
