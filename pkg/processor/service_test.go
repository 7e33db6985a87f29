package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/chunker"
	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
)

func testService() *Service {
	cfg := &config.Config{}
	cfg.Document.MaxFileSize = 1024 * 1024
	// Small minimum chunk size (chunk size / 4) so short fixtures still
	// produce chunks, while staying large enough for one-chunk documents.
	cfg.Document.MaxChunkChars = 600
	cfg.Document.ChunkOverlap = 100
	cfg.Document.MaxChunksPerDoc = 100
	return NewService(cfg, chunker.New(cfg))
}

func TestProcessBytesText(t *testing.T) {
	s := testService()

	content := "This is the first paragraph with enough content to survive chunking. It keeps going for a little while.\n\nThis is the second paragraph. It also has a couple of sentences to work with."
	chunks, meta, err := s.ProcessBytes(context.Background(), []byte(content), "notes.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.NotNil(t, meta)

	assert.Equal(t, "completed", meta.ProcessingStatus)
	assert.Equal(t, ".txt", meta.FileType)
	assert.Equal(t, "text", meta.ContentType)
	assert.Equal(t, "utf-8", meta.Encoding)
	assert.Equal(t, len(chunks), meta.ChunkCount)
	assert.Len(t, meta.ContentHash, 32)
	assert.Greater(t, meta.WordCount, 0)
	assert.Equal(t, 2, meta.ParagraphCount)

	docID := chunks[0].DocumentID
	require.NotEmpty(t, docID)
	for _, c := range chunks {
		assert.Equal(t, docID, c.DocumentID)
		assert.Equal(t, "notes.txt", c.SourceFile)
	}
}

func TestProcessBytesMarkdown(t *testing.T) {
	s := testService()

	content := strings.Join([]string{
		"# Project Overview",
		"",
		"Read the [docs](https://example.com/docs) before starting anything here.",
		"",
		"![diagram](arch.png)",
		"",
		"```go",
		"func main() {}",
		"```",
		"",
		"| Name | Value |",
		"|------|-------|",
		"| one  | 1     |",
		"",
		"> Remember to keep the summary short and useful for everyone.",
	}, "\n")

	chunks, meta, err := s.ProcessBytes(context.Background(), []byte(content), "readme.md", "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "markdown", meta.ContentType)
	assert.True(t, meta.HasLinks)
	assert.True(t, meta.HasImages)
	assert.True(t, meta.HasTables)

	full := chunks[0].Text
	assert.Contains(t, full, "Project Overview")
	assert.Contains(t, full, "docs (URL: https://example.com/docs)")
	assert.Contains(t, full, "[Image: diagram]")
	assert.Contains(t, full, "[Code Block: go]")
	assert.Contains(t, full, "Table:")
	assert.Contains(t, full, "Quote: Remember")
	assert.NotContains(t, full, "func main")
}

func TestProcessBytesCSV(t *testing.T) {
	s := testService()

	content := "name,age,score\nalice,30,91.5\nbob,25,88.0\n"
	chunks, meta, err := s.ProcessBytes(context.Background(), []byte(content), "people.csv", "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "csv", meta.ContentType)
	assert.True(t, meta.HasTables)

	full := chunks[0].Text
	assert.Contains(t, full, "CSV Document Analysis")
	assert.Contains(t, full, "Column age: integer")
	assert.Contains(t, full, "Column score: float")
	assert.Contains(t, full, "Column name: string")
	assert.Contains(t, full, "Row 1: name=alice, age=30, score=91.5")
}

func TestProcessBytesRejectsUnsupported(t *testing.T) {
	s := testService()

	_, meta, err := s.ProcessBytes(context.Background(), []byte("data"), "report.pdf", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
	require.NotNil(t, meta)
	assert.Equal(t, "failed", meta.ProcessingStatus)
	assert.NotEmpty(t, meta.ErrorMessage)
}

func TestProcessBytesRejectsEmpty(t *testing.T) {
	s := testService()

	_, _, err := s.ProcessBytes(context.Background(), nil, "empty.txt", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestProcessBytesLatin1Fallback(t *testing.T) {
	s := testService()

	// 0xE9 is not valid UTF-8 on its own but decodes as é in Latin-1.
	content := append([]byte("Caf"), 0xE9)
	content = append(content, []byte(" menu items are listed below with their prices for today.")...)

	_, meta, err := s.ProcessBytes(context.Background(), content, "menu.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "latin-1", meta.Encoding)
}

func TestProcessBytesCancelledContext(t *testing.T) {
	s := testService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.ProcessBytes(ctx, []byte("some text"), "notes.txt", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCancelled))
}

func TestValidateFile(t *testing.T) {
	s := testService()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("hello world content"), 0644))
	assert.NoError(t, s.ValidateFile(good))

	missing := filepath.Join(dir, "missing.txt")
	err := s.ValidateFile(missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	assert.Error(t, s.ValidateFile(empty))

	unsupported := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(unsupported, []byte("binary"), 0644))
	err = s.ValidateFile(unsupported)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}

func TestProcessFromDisk(t *testing.T) {
	s := testService()
	dir := t.TempDir()

	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("A document on disk with a couple of sentences in it. Enough text to clear the minimum chunk size and produce at least one chunk. The final sentence pads the document out a little further still."), 0644))

	chunks, meta, err := s.Process(context.Background(), path, "doc-42")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, path, meta.FilePath)
	assert.Equal(t, "doc.txt", meta.FileName)
	for _, c := range chunks {
		assert.Equal(t, "doc-42", c.DocumentID)
	}

	stats := s.Stats()
	assert.Equal(t, 1, stats.FilesProcessed)
}

func TestProcessBytesKeepsCallerDocumentID(t *testing.T) {
	s := testService()

	content := "A short document with two sentences in it. The second sentence pads it out."
	chunks, _, err := s.ProcessBytes(context.Background(), []byte(content), "notes.txt", "upload-7")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, "upload-7", c.DocumentID)
	}
}

func TestProcessBytesRejectsOverChunkLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Document.MaxFileSize = 1024 * 1024
	cfg.Document.MaxChunkChars = 120
	cfg.Document.ChunkOverlap = 0
	cfg.Document.MaxChunksPerDoc = 2
	s := NewService(cfg, chunker.New(cfg))

	sentence := "Every sentence in this fixture is long enough to fill a whole chunk on its own without help. "
	content := strings.Repeat(sentence, 12)

	chunks, meta, err := s.ProcessBytes(context.Background(), []byte(content), "big.txt", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Nil(t, chunks)
	require.NotNil(t, meta)
	assert.Equal(t, "failed", meta.ProcessingStatus)
	assert.Contains(t, meta.ErrorMessage, "limit is 2")
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"collapse spaces", "a    b\tc", "a b c"},
		{"collapse blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"strip control chars", "a\x00b\x07c", "abc"},
		{"trim", "  a  ", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeText(tt.in))
		})
	}
}
