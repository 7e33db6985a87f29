package store

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/embedder"
)

// MemoryStore is the in-process fallback used when the external vector
// database is unreachable. Functionally equivalent to the Qdrant store but
// unindexed: search is a linear scan with cosine similarity.
type MemoryStore struct {
	mu          sync.RWMutex
	chunks      map[string]domain.Chunk
	dim         int
	lastUpdated time.Time
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]domain.Chunk),
		dim:    dim,
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, chunk domain.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("%w: chunk has no id", domain.ErrInvalidInput)
	}
	if len(chunk.Vector) != m.dim {
		return fmt.Errorf("%w: vector dimension %d, store expects %d",
			domain.ErrInvalidInput, len(chunk.Vector), m.dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	m.chunks[chunk.ID] = chunk
	m.lastUpdated = time.Now()
	return nil
}

func (m *MemoryStore) UpsertBatch(ctx context.Context, chunks []domain.Chunk) (*domain.BatchResult, error) {
	start := time.Now()
	result := &domain.BatchResult{Total: len(chunks)}

	for _, chunk := range chunks {
		if err := m.Upsert(ctx, chunk); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %s: %v", chunk.ID, err))
			continue
		}
		result.Successful++
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	result.MemoryBytes = mem.Alloc
	result.ProcessingTime = time.Since(start)
	return result, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunk, ok := m.chunks[id]
	if !ok {
		return nil, nil
	}
	return &chunk, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, id)
	m.lastUpdated = time.Now()
	return nil
}

func (m *MemoryStore) DeleteBySource(ctx context.Context, sourceFile string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, chunk := range m.chunks {
		if chunk.SourceFile == sourceFile {
			delete(m.chunks, id)
			count++
		}
	}
	if count > 0 {
		m.lastUpdated = time.Now()
	}
	return count, nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, topK int, minScore float64, filter *domain.SearchFilter) ([]domain.SearchResult, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query vector dimension %d, store expects %d",
			domain.ErrInvalidInput, len(vector), m.dim)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", domain.ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]domain.SearchResult, 0, topK)
	for _, chunk := range m.chunks {
		if !matchesFilter(chunk, filter) {
			continue
		}
		score := embedder.Similarity(vector, chunk.Vector)
		if score < minScore {
			continue
		}
		results = append(results, domain.SearchResult{
			ChunkID:    chunk.ID,
			Text:       chunk.Text,
			Score:      score,
			SourceFile: chunk.SourceFile,
			ChunkIndex: chunk.ChunkIndex,
			Metadata:   chunk.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryStore) BatchSearch(ctx context.Context, vectors [][]float32, topK int, minScore float64, filter *domain.SearchFilter) ([][]domain.SearchResult, error) {
	results := make([][]domain.SearchResult, len(vectors))
	for i, v := range vectors {
		hits, err := m.Search(ctx, v, topK, minScore, filter)
		if err != nil {
			return nil, err
		}
		results[i] = hits
	}
	return results, nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]domain.DocumentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type group struct {
		documentID string
		count      int
		earliest   time.Time
	}
	groups := map[string]*group{}
	for _, chunk := range m.chunks {
		g, ok := groups[chunk.SourceFile]
		if !ok {
			g = &group{documentID: chunk.DocumentID, earliest: chunk.CreatedAt}
			groups[chunk.SourceFile] = g
		}
		g.count++
		if chunk.CreatedAt.Before(g.earliest) {
			g.earliest = chunk.CreatedAt
		}
	}

	summaries := make([]domain.DocumentSummary, 0, len(groups))
	for source, g := range groups {
		summaries = append(summaries, domain.DocumentSummary{
			DocumentID: g.documentID,
			SourceFile: source,
			ChunkCount: g.count,
			CreatedAt:  g.earliest,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SourceFile < summaries[j].SourceFile
	})

	return paginate(summaries, limit, offset), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var size int64
	sources := map[string]struct{}{}
	for _, chunk := range m.chunks {
		size += int64(len(chunk.Text)) + int64(len(chunk.Vector))*4
		sources[chunk.SourceFile] = struct{}{}
	}

	sourceList := make([]string, 0, len(sources))
	for s := range sources {
		sourceList = append(sourceList, s)
	}
	sort.Strings(sourceList)

	total := int64(len(m.chunks))
	return &domain.StoreStats{
		TotalPoints:     total,
		TotalVectors:    total,
		ApproxSizeBytes: size,
		SourceFiles:     sourceList,
		LastUpdated:     m.lastUpdated,
	}, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]domain.Chunk)
	m.lastUpdated = time.Now()
	return nil
}

// matchesFilter applies the same AND semantics the Qdrant filter builder
// produces.
func matchesFilter(chunk domain.Chunk, f *domain.SearchFilter) bool {
	if f.IsZero() {
		return true
	}

	if f.SourceFile != "" && chunk.SourceFile != f.SourceFile {
		return false
	}
	if len(f.SourceFiles) > 0 && !containsString(f.SourceFiles, chunk.SourceFile) {
		return false
	}
	if len(f.DocumentIDs) > 0 && !containsString(f.DocumentIDs, chunk.DocumentID) {
		return false
	}
	if f.ChunkIndex != nil && chunk.ChunkIndex != *f.ChunkIndex {
		return false
	}
	if f.ChunkIndexMin != nil && chunk.ChunkIndex < *f.ChunkIndexMin {
		return false
	}
	if f.ChunkIndexMax != nil && chunk.ChunkIndex > *f.ChunkIndexMax {
		return false
	}
	if f.CreatedAfter != nil && chunk.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && chunk.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	for k, want := range f.Metadata {
		got, ok := chunk.Metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
