package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
)

// serviceConfig points at a dead Qdrant so the service starts in fallback
// mode and every operation exercises the in-memory path.
func serviceConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Qdrant.Host = "127.0.0.1"
	cfg.Qdrant.Port = 1
	cfg.Qdrant.CollectionName = "test_collection"
	cfg.Qdrant.VectorDim = 2
	cfg.Store.BatchChunkSize = 10
	cfg.Store.MaxQueueSize = 4
	cfg.Store.SlowOpMs = 1000
	cfg.Store.MemHighMB = 100000
	cfg.Store.QueueHighN = 2
	cfg.Store.ErrRateHigh = 0.5
	return cfg
}

func TestServiceFallbackAtStartup(t *testing.T) {
	s := NewService(serviceConfig())
	defer func() { _ = s.Close() }()

	assert.True(t, s.FallbackMode())
	assert.Error(t, s.Health(context.Background()))

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, memChunk("a", "doc.txt", 0, []float32{1, 0})))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPoints)

	hits, err := s.Search(ctx, []float32{1, 0}, 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
}

func TestServiceAsyncInsertDeliversResult(t *testing.T) {
	s := NewService(serviceConfig())
	defer func() { _ = s.Close() }()

	chunks := []domain.Chunk{
		memChunk("a", "doc.txt", 0, []float32{1, 0}),
		memChunk("b", "doc.txt", 1, []float32{0, 1}),
	}
	result, ok := s.EnqueueInsert(chunks, PriorityNormal)
	require.True(t, ok)

	select {
	case r := <-result:
		require.NotNil(t, r)
		assert.Equal(t, 2, r.Successful)
	case <-time.After(2 * time.Second):
		t.Fatal("async insert result not delivered")
	}

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestServiceAsyncDeleteBySource(t *testing.T) {
	s := NewService(serviceConfig())
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, memChunk("a", "gone.txt", 0, []float32{1, 0})))
	require.NoError(t, s.Upsert(ctx, memChunk("b", "kept.txt", 0, []float32{1, 0})))

	result, ok := s.EnqueueDeleteBySource("gone.txt", PriorityHigh)
	require.True(t, ok)

	select {
	case r := <-result:
		assert.Equal(t, 1, r.Successful)
	case <-time.After(2 * time.Second):
		t.Fatal("async delete result not delivered")
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.txt"}, stats.SourceFiles)
}

func TestServiceQueueRejectionAlert(t *testing.T) {
	cfg := serviceConfig()
	s := NewService(cfg)
	defer func() { _ = s.Close() }()

	alerts := s.Monitor().Subscribe()

	// Saturate the queue faster than the worker drains. Rejection must
	// surface as a queue_full alert; at least one enqueue should fail.
	rejected := false
	for i := 0; i < 100; i++ {
		if _, ok := s.EnqueueInsert(nil, PriorityLow); !ok {
			rejected = true
			break
		}
	}
	require.True(t, rejected, "queue never rejected despite saturation")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case a := <-alerts:
			if a.Type == AlertQueueFull {
				return
			}
		case <-deadline:
			t.Fatal("no queue_full alert observed")
		}
	}
}

func TestServiceMonitorRecordsOps(t *testing.T) {
	s := NewService(serviceConfig())
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, memChunk("a", "doc.txt", 0, []float32{1, 0})))
	_, err := s.Search(ctx, []float32{1, 0}, 5, 0, nil)
	require.NoError(t, err)

	stats := s.Monitor().Stats(s.QueueDepth())
	assert.Contains(t, stats.Operations, "upsert")
	assert.Contains(t, stats.Operations, "search")
}

func TestServiceReconnectFailsWhileDown(t *testing.T) {
	s := NewService(serviceConfig())
	defer func() { _ = s.Close() }()

	require.True(t, s.FallbackMode())
	assert.Error(t, s.Reconnect())
	assert.True(t, s.FallbackMode())
}
