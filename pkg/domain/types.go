package domain

import (
	"context"
	"time"
)

// Chunk is the unit of retrieval: a contiguous text span with its embedding.
type Chunk struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Vector     []float32              `json:"vector,omitempty"`
	SourceFile string                 `json:"source_file"`
	ChunkIndex int                    `json:"chunk_index"`
	StartChar  int                    `json:"start_char"`
	EndChar    int                    `json:"end_char"`
	DocumentID string                 `json:"document_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// DocumentMetadata describes one processed upload.
type DocumentMetadata struct {
	FilePath    string `json:"file_path"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	FileType    string `json:"file_type"`
	Encoding    string `json:"encoding"`
	ContentHash string `json:"content_hash"`

	WordCount      int `json:"word_count"`
	CharCount      int `json:"char_count"`
	ChunkCount     int `json:"chunk_count"`
	SentenceCount  int `json:"sentence_count"`
	ParagraphCount int `json:"paragraph_count"`
	LineCount      int `json:"line_count"`

	ContentType      string `json:"content_type"`
	LanguageDetected string `json:"language_detected,omitempty"`
	HasTables        bool   `json:"has_tables"`
	HasImages        bool   `json:"has_images"`
	HasLinks         bool   `json:"has_links"`

	ProcessingTime   time.Duration `json:"processing_time"`
	ProcessingStatus string        `json:"processing_status"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentSummary is one row of the store's document listing, grouped by
// source file.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	SourceFile string    `json:"source_file"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult is a retrieval hit. Score is cosine similarity in [0,1],
// higher is better.
type SearchResult struct {
	ChunkID    string                 `json:"chunk_id"`
	Text       string                 `json:"text"`
	Score      float64                `json:"score"`
	SourceFile string                 `json:"source_file"`
	ChunkIndex int                    `json:"chunk_index"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter restricts a search. Conditions combine with AND; zero values
// mean "no condition".
type SearchFilter struct {
	SourceFile    string
	SourceFiles   []string
	DocumentIDs   []string
	ChunkIndex    *int
	ChunkIndexMin *int
	ChunkIndexMax *int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Metadata      map[string]interface{}
}

// IsZero reports whether the filter carries no conditions.
func (f *SearchFilter) IsZero() bool {
	if f == nil {
		return true
	}
	return f.SourceFile == "" && len(f.SourceFiles) == 0 && len(f.DocumentIDs) == 0 &&
		f.ChunkIndex == nil && f.ChunkIndexMin == nil && f.ChunkIndexMax == nil &&
		f.CreatedAfter == nil && f.CreatedBefore == nil && len(f.Metadata) == 0
}

// BatchResult reports the outcome of a batched store operation. Partial
// success is permitted.
type BatchResult struct {
	Total          int           `json:"total"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Errors         []string      `json:"errors,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	MemoryBytes    uint64        `json:"memory_usage"`
}

// StoreStats is a snapshot of collection-level counters.
type StoreStats struct {
	TotalPoints     int64     `json:"total_points"`
	TotalVectors    int64     `json:"total_vectors"`
	ApproxSizeBytes int64     `json:"approx_size_bytes"`
	SourceFiles     []string  `json:"source_files"`
	LastUpdated     time.Time `json:"last_updated"`
}

// GenerationOptions controls one LLM call.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMResponse is the result of a unary generation call.
type LLMResponse struct {
	Text         string                 `json:"text"`
	Provider     string                 `json:"provider"`
	ModelName    string                 `json:"model_name"`
	TokensUsed   int                    `json:"tokens_used,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// QueryType drives prompt template selection.
type QueryType string

const (
	QueryFactual       QueryType = "factual"
	QueryAnalytical    QueryType = "analytical"
	QueryComparative   QueryType = "comparative"
	QuerySummarization QueryType = "summarization"
	QueryCreative      QueryType = "creative"
	QueryGeneral       QueryType = "general"
)

// SafetyLevel selects the safety guideline block appended to prompts.
type SafetyLevel string

const (
	SafetyStandard     SafetyLevel = "standard"
	SafetyConservative SafetyLevel = "conservative"
	SafetyPermissive   SafetyLevel = "permissive"
)

// ResponseFormat selects the format instruction appended to prompts.
type ResponseFormat string

const (
	FormatText         ResponseFormat = "text"
	FormatBulletPoints ResponseFormat = "bullet_points"
	FormatNumberedList ResponseFormat = "numbered_list"
	FormatTable        ResponseFormat = "table"
	FormatJSON         ResponseFormat = "json"
	FormatSummary      ResponseFormat = "summary"
)

// ValidationStatus is the outcome of response validation.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationError   ValidationStatus = "error"
)

// RAGQuery is one retrieval-augmented generation request. Zero values are
// replaced with configured defaults before execution.
type RAGQuery struct {
	Query           string         `json:"query"`
	TopK            int            `json:"top_k,omitempty"`
	ScoreThreshold  float64        `json:"score_threshold,omitempty"`
	MaxContextChars int            `json:"max_context_chars,omitempty"`
	Temperature     float64        `json:"temperature,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	Filters         *SearchFilter  `json:"-"`
	QueryType       QueryType      `json:"query_type,omitempty"`
	ResponseFormat  ResponseFormat `json:"response_format,omitempty"`
	IncludeSources  bool           `json:"include_sources"`
	SafetyLevel     SafetyLevel    `json:"safety_level,omitempty"`
}

// RAGContext is the assembled retrieval context for one query. Chunks are
// ordered by descending score; RelevanceScores is parallel to Chunks.
type RAGContext struct {
	Query           string         `json:"query"`
	Chunks          []SearchResult `json:"chunks,omitempty"`
	AssembledText   string         `json:"assembled_text"`
	ContextLength   int            `json:"context_length"`
	SourceFiles     []string       `json:"source_files"`
	RelevanceScores []float64      `json:"relevance_scores"`
}

// RAG response statuses.
const (
	RAGStatusOK        = "ok"
	RAGStatusNoResults = "no_results"
	RAGStatusError     = "error"
)

// RAGResponse is the result of one RAG query.
type RAGResponse struct {
	Answer       string                 `json:"answer"`
	Context      *RAGContext            `json:"context,omitempty"`
	Status       string                 `json:"status"`
	ResponseTime time.Duration          `json:"response_time"`
	TokensUsed   int                    `json:"tokens_used,omitempty"`
	Sources      []string               `json:"sources,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Embedder maps text to fixed-size vectors.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	EncodeOne(ctx context.Context, text string) ([]float32, error)
}

// Generator produces text from a prompt, unary or streaming.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts *GenerationOptions) (*LLMResponse, error)
	Stream(ctx context.Context, prompt string, opts *GenerationOptions, callback func(string)) error
}

// Chunker splits normalized text into overlapping chunks.
type Chunker interface {
	Split(text string, sourceFile string) ([]Chunk, error)
}

// Processor turns an uploaded file into chunks plus document metadata.
type Processor interface {
	Process(ctx context.Context, filePath, documentID string) ([]Chunk, *DocumentMetadata, error)
	ProcessBytes(ctx context.Context, data []byte, filename, documentID string) ([]Chunk, *DocumentMetadata, error)
}

// VectorStore owns one collection of chunks and their vectors.
type VectorStore interface {
	Upsert(ctx context.Context, chunk Chunk) error
	UpsertBatch(ctx context.Context, chunks []Chunk) (*BatchResult, error)
	Get(ctx context.Context, id string) (*Chunk, error)
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, sourceFile string) (int, error)
	Search(ctx context.Context, vector []float32, topK int, minScore float64, filter *SearchFilter) ([]SearchResult, error)
	BatchSearch(ctx context.Context, vectors [][]float32, topK int, minScore float64, filter *SearchFilter) ([][]SearchResult, error)
	List(ctx context.Context, limit, offset int) ([]DocumentSummary, error)
	Stats(ctx context.Context) (*StoreStats, error)
	Clear(ctx context.Context) error
}
