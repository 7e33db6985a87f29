package chunker

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
)

// Sentences shorter than this are dropped before assembly.
const minSentenceChars = 10

// Service assembles normalized text into overlapping chunks along sentence
// boundaries.
type Service struct {
	maxChunkChars int
	chunkOverlap  int
	minChunkChars int
}

func New(cfg *config.Config) *Service {
	return &Service{
		maxChunkChars: cfg.Document.MaxChunkChars,
		chunkOverlap:  cfg.Document.ChunkOverlap,
		minChunkChars: cfg.MinChunkChars(),
	}
}

// Split chunks text greedily: sentences fill a chunk up to the size limit;
// on overflow the next chunk is seeded with whole trailing sentences
// totaling at most the configured overlap. The final chunk is emitted only
// if it reaches the minimum size.
func (s *Service) Split(text string, sourceFile string) ([]domain.Chunk, error) {
	if s.maxChunkChars <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return []domain.Chunk{}, nil
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return []domain.Chunk{}, nil
	}

	var chunks []domain.Chunk
	var current []string
	currentLen := 0
	chunkIndex := 0
	startChar := 0

	emit := func(sentences []string, start int) domain.Chunk {
		chunkText := strings.Join(sentences, " ")
		now := time.Now()
		return domain.Chunk{
			ID:         uuid.New().String(),
			Text:       chunkText,
			SourceFile: sourceFile,
			ChunkIndex: chunkIndex,
			StartChar:  start,
			EndChar:    start + len(chunkText),
			Metadata: map[string]interface{}{
				"word_count":     len(strings.Fields(chunkText)),
				"char_count":     len(chunkText),
				"sentence_count": len(sentences),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	for _, sentence := range sentences {
		sentenceLen := len(sentence)

		if currentLen+sentenceLen > s.maxChunkChars && len(current) > 0 {
			chunk := emit(current, startChar)
			chunks = append(chunks, chunk)
			chunkIndex++

			overlap := s.overlapSentences(current)
			overlapLen := len(strings.Join(overlap, " "))
			startChar = chunk.EndChar - overlapLen

			current = append(overlap, sentence)
			currentLen = 0
			for _, sent := range current {
				currentLen += len(sent)
			}
		} else {
			current = append(current, sentence)
			currentLen += sentenceLen
		}
	}

	if len(current) > 0 && currentLen >= s.minChunkChars {
		chunks = append(chunks, emit(current, startChar))
	}

	return chunks, nil
}

// overlapSentences returns whole trailing sentences whose joined length
// stays within the overlap budget.
func (s *Service) overlapSentences(sentences []string) []string {
	if len(sentences) == 0 || s.chunkOverlap <= 0 {
		return nil
	}

	var overlap []string
	for i := len(sentences) - 1; i >= 0; i-- {
		candidate := append([]string{sentences[i]}, overlap...)
		if len(strings.Join(candidate, " ")) <= s.chunkOverlap {
			overlap = candidate
		} else {
			break
		}
	}
	return overlap
}

// SplitSentences splits on sentence-ending punctuation followed by
// whitespace and an uppercase letter. Sentences shorter than the minimum
// are dropped.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if !isSentenceEnd(r) {
			continue
		}

		// Boundary: end punctuation, then whitespace, then uppercase.
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}

		appendSentence(&sentences, current.String())
		current.Reset()
		i = j - 1
	}

	appendSentence(&sentences, current.String())

	return sentences
}

func appendSentence(sentences *[]string, raw string) {
	sentence := strings.TrimSpace(raw)
	if len(sentence) > minSentenceChars {
		*sentences = append(*sentences, sentence)
	}
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
