package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zerorag/zerorag/pkg/chunker"
	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

var supportedExtensions = map[string]string{
	".txt": "text",
	".md":  "markdown",
	".csv": "csv",
}

// Stats counts processor activity since startup.
type Stats struct {
	FilesProcessed int           `json:"files_processed"`
	FilesFailed    int           `json:"files_failed"`
	ChunksProduced int           `json:"chunks_produced"`
	BytesProcessed int64         `json:"bytes_processed"`
	TotalTime      time.Duration `json:"total_time"`
}

// Service turns uploaded files into normalized, chunked text with document
// metadata.
type Service struct {
	cfg     *config.Config
	chunker domain.Chunker
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewService(cfg *config.Config, ch domain.Chunker) *Service {
	return &Service{
		cfg:     cfg,
		chunker: ch,
		logger:  log.WithModule("processor"),
	}
}

// SupportedExtensions lists the file extensions the processor accepts.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// ValidateFile checks a file on disk before processing: it must exist, be a
// regular non-empty file within the size limit, and carry a supported
// extension.
func (s *Service) ValidateFile(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: file does not exist: %s", domain.ErrNotFound, filePath)
		}
		return fmt.Errorf("%w: cannot access file: %v", domain.ErrInvalidInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: path is a directory: %s", domain.ErrInvalidInput, filePath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: file is empty: %s", domain.ErrInvalidInput, filePath)
	}
	if info.Size() > s.cfg.Document.MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit %d",
			domain.ErrInvalidInput, info.Size(), s.cfg.Document.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if _, ok := supportedExtensions[ext]; !ok {
		return fmt.Errorf("%w: unsupported file type %q (supported: %s)",
			domain.ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions(), ", "))
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%w: file is not readable: %v", domain.ErrInvalidInput, err)
	}
	_ = f.Close()

	return nil
}

// Process reads and processes a file from disk.
func (s *Service) Process(ctx context.Context, filePath, documentID string) ([]domain.Chunk, *domain.DocumentMetadata, error) {
	if err := s.ValidateFile(filePath); err != nil {
		s.recordFailure()
		return nil, nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		s.recordFailure()
		return nil, nil, fmt.Errorf("%w: reading %s: %v", domain.ErrInvalidInput, filePath, err)
	}

	chunks, meta, err := s.ProcessBytes(ctx, data, filepath.Base(filePath), documentID)
	if meta != nil {
		meta.FilePath = filePath
	}
	return chunks, meta, err
}

// ProcessBytes processes in-memory file content. The filename determines
// the extraction strategy by extension. The documentID is stamped on every
// produced chunk; a fresh one is generated when the caller passes "".
func (s *Service) ProcessBytes(ctx context.Context, data []byte, filename, documentID string) ([]domain.Chunk, *domain.DocumentMetadata, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	meta := &domain.DocumentMetadata{
		FileName:         filename,
		FileSize:         int64(len(data)),
		ProcessingStatus: "processing",
		CreatedAt:        start,
		LastModified:     start,
	}

	fail := func(err error) ([]domain.Chunk, *domain.DocumentMetadata, error) {
		meta.ProcessingStatus = "failed"
		meta.ErrorMessage = err.Error()
		meta.ProcessingTime = time.Since(start)
		s.recordFailure()
		return nil, meta, err
	}

	if len(data) == 0 {
		return fail(fmt.Errorf("%w: empty file content", domain.ErrInvalidInput))
	}
	if int64(len(data)) > s.cfg.Document.MaxFileSize {
		return fail(fmt.Errorf("%w: content size %d exceeds limit %d",
			domain.ErrInvalidInput, len(data), s.cfg.Document.MaxFileSize))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := supportedExtensions[ext]
	if !ok {
		return fail(fmt.Errorf("%w: unsupported file type %q", domain.ErrUnsupportedFormat, ext))
	}
	meta.FileType = ext
	meta.ContentType = contentType

	raw, encoding, err := decodeBytes(data)
	if err != nil {
		return fail(err)
	}
	meta.Encoding = encoding

	hash := md5.Sum(data)
	meta.ContentHash = hex.EncodeToString(hash[:])

	var text string
	switch contentType {
	case "markdown":
		meta.HasTables = strings.Contains(raw, "|")
		meta.HasImages = imageRe.MatchString(raw)
		meta.HasLinks = linkRe.MatchString(raw)
		text = markdownToText(raw)
	case "csv":
		meta.HasTables = true
		text, err = csvToText(raw)
		if err != nil {
			return fail(err)
		}
	default:
		text = raw
	}

	text = normalizeText(text)
	if text == "" {
		return fail(fmt.Errorf("%w: no text content after extraction", domain.ErrInvalidInput))
	}

	meta.CharCount = len(text)
	meta.WordCount = len(strings.Fields(text))
	meta.LineCount = strings.Count(text, "\n") + 1
	meta.ParagraphCount = len(splitParagraphs(text))
	meta.SentenceCount = len(chunker.SplitSentences(text))

	chunks, err := s.chunker.Split(text, filename)
	if err != nil {
		return fail(err)
	}

	// A document over the chunk limit is rejected whole; storing a prefix
	// would silently drop content.
	if limit := s.cfg.Document.MaxChunksPerDoc; limit > 0 && len(chunks) > limit {
		return fail(fmt.Errorf("%w: document produces %d chunks, limit is %d",
			domain.ErrInvalidInput, len(chunks), limit))
	}

	if documentID == "" {
		documentID = uuid.New().String()
	}
	for i := range chunks {
		chunks[i].DocumentID = documentID
	}

	meta.ChunkCount = len(chunks)
	meta.ProcessingStatus = "completed"
	meta.ProcessingTime = time.Since(start)

	s.recordSuccess(len(chunks), int64(len(data)), meta.ProcessingTime)
	s.logger.Info("document processed",
		"file", filename, "chunks", len(chunks), "chars", meta.CharCount,
		"duration", meta.ProcessingTime)

	return chunks, meta, nil
}

// Stats returns a snapshot of processing counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) recordSuccess(chunks int, bytes int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FilesProcessed++
	s.stats.ChunksProduced += chunks
	s.stats.BytesProcessed += bytes
	s.stats.TotalTime += d
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FilesFailed++
}

// normalizeText canonicalizes whitespace: CRLF to LF, control characters
// stripped, space runs collapsed, at most one blank line between
// paragraphs.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			sb.WriteRune(r)
		}
	}
	text = sb.String()

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
