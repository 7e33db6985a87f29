package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/domain"
)

func TestToPointPayloadRoundTrip(t *testing.T) {
	s := &QdrantStore{dim: 3}

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(2 * time.Hour)
	chunk := domain.Chunk{
		ID:         "11111111-1111-1111-1111-111111111111",
		Text:       "chunk text",
		Vector:     []float32{0.1, 0.2, 0.3},
		SourceFile: "guide.md",
		ChunkIndex: 4,
		StartChar:  100,
		EndChar:    180,
		DocumentID: "doc-1",
		Metadata:   map[string]interface{}{"lang": "en"},
		CreatedAt:  created,
		UpdatedAt:  updated,
	}

	point, err := s.toPoint(chunk)
	require.NoError(t, err)

	payload := point.Payload
	assert.Equal(t, "chunk text", payload["text"].GetStringValue())
	assert.Equal(t, "guide.md", payload["source_file"].GetStringValue())
	assert.Equal(t, "doc-1", payload["document_id"].GetStringValue())
	assert.Equal(t, int64(4), payload["chunk_index"].GetIntegerValue())
	assert.Equal(t, created.Unix(), payload["created_at"].GetIntegerValue())
	assert.Equal(t, updated.Unix(), payload["updated_at"].GetIntegerValue())
	assert.Equal(t, "en", payload["meta_lang"].GetStringValue())

	back := chunkFromPayload(chunk.ID, payload)
	assert.Equal(t, chunk.Text, back.Text)
	assert.Equal(t, chunk.DocumentID, back.DocumentID)
	assert.Equal(t, created, back.CreatedAt)
	assert.Equal(t, updated, back.UpdatedAt)
}

func TestToPointDefaultsTimestamps(t *testing.T) {
	s := &QdrantStore{dim: 2}

	point, err := s.toPoint(domain.Chunk{
		ID:     "22222222-2222-2222-2222-222222222222",
		Text:   "t",
		Vector: []float32{1, 0},
	})
	require.NoError(t, err)

	assert.Greater(t, point.Payload["created_at"].GetIntegerValue(), int64(0))
	assert.Greater(t, point.Payload["updated_at"].GetIntegerValue(), int64(0))
}

func TestToPointRejectsDimensionMismatch(t *testing.T) {
	s := &QdrantStore{dim: 3}

	_, err := s.toPoint(domain.Chunk{
		ID:     "33333333-3333-3333-3333-333333333333",
		Vector: []float32{1, 0},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
