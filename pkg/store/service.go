package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

// Service is the vector store used by the rest of the system. It fronts a
// Qdrant collection, degrades to an in-process store when Qdrant is
// unreachable, and runs the async operation queue and monitor.
//
// Fallback is one-way: once degraded, buffered state is not replayed into
// Qdrant. Reconnect promotes the primary again but previously fallen-back
// writes stay in memory until re-ingested.
type Service struct {
	cfg      *config.Config
	primary  *QdrantStore
	memory   *MemoryStore
	fallback atomic.Bool

	queue   *OpQueue
	monitor *Monitor

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:     cfg,
		memory:  NewMemoryStore(cfg.Qdrant.VectorDim),
		queue:   NewOpQueue(cfg.Store.MaxQueueSize),
		monitor: NewMonitor(cfg),
		logger:  log.WithModule("store"),
	}

	primary, err := NewQdrantStore(cfg)
	if err != nil {
		s.logger.Warn("qdrant unavailable at startup, using in-memory fallback", "error", err)
		s.fallback.Store(true)
	} else {
		s.primary = primary
	}

	s.monitor.SetMemoryHighHook(func() { s.EnqueueCleanup() })

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.monitor.Run(ctx)
	}()

	return s
}

// FallbackMode reports whether the store is degraded to in-memory.
func (s *Service) FallbackMode() bool { return s.fallback.Load() }

// Monitor exposes the store monitor for alert subscription and stats.
func (s *Service) Monitor() *Monitor { return s.monitor }

// QueueDepth reports the pending async operation count.
func (s *Service) QueueDepth() int { return s.queue.Len() }

// Health reports the active backend's reachability. Fallback mode is
// healthy in the functional sense but surfaced as an error so callers can
// report degradation.
func (s *Service) Health(ctx context.Context) error {
	if s.fallback.Load() {
		return fmt.Errorf("%w: operating in fallback mode", domain.ErrUnavailable)
	}
	return s.primary.Health(ctx)
}

// Reconnect attempts to restore the Qdrant backend after a fallback.
func (s *Service) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fallback.Load() {
		return nil
	}

	primary, err := NewQdrantStore(s.cfg)
	if err != nil {
		return err
	}
	if s.primary != nil {
		_ = s.primary.Close()
	}
	s.primary = primary
	s.fallback.Store(false)
	s.logger.Info("qdrant connection restored")
	return nil
}

func (s *Service) Close() error {
	s.cancel()
	s.queue.Close()
	s.wg.Wait()
	if s.primary != nil {
		return s.primary.Close()
	}
	return nil
}

func (s *Service) active() domain.VectorStore {
	if s.fallback.Load() {
		return s.memory
	}
	return s.primary
}

// switchToFallback flips to the in-memory store after a runtime failure.
func (s *Service) switchToFallback(cause error) {
	if s.fallback.CompareAndSwap(false, true) {
		s.logger.Error("qdrant became unreachable, switching to in-memory fallback", "error", cause)
	}
}

// degraded reports whether the error warrants a fallback switch.
func degraded(err error) bool {
	return err != nil && errors.Is(err, domain.ErrUnavailable)
}

func (s *Service) Upsert(ctx context.Context, chunk domain.Chunk) error {
	start := time.Now()
	err := s.active().Upsert(ctx, chunk)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		err = s.memory.Upsert(ctx, chunk)
	}
	s.monitor.RecordOp("upsert", time.Since(start), err)
	return err
}

func (s *Service) UpsertBatch(ctx context.Context, chunks []domain.Chunk) (*domain.BatchResult, error) {
	start := time.Now()
	result, err := s.active().UpsertBatch(ctx, chunks)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		result, err = s.memory.UpsertBatch(ctx, chunks)
	}
	s.monitor.RecordOp("upsert_batch", time.Since(start), err)
	return result, err
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	start := time.Now()
	chunk, err := s.active().Get(ctx, id)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		chunk, err = s.memory.Get(ctx, id)
	}
	s.monitor.RecordOp("get", time.Since(start), err)
	return chunk, err
}

func (s *Service) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.active().Delete(ctx, id)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		err = s.memory.Delete(ctx, id)
	}
	s.monitor.RecordOp("delete", time.Since(start), err)
	return err
}

func (s *Service) DeleteBySource(ctx context.Context, sourceFile string) (int, error) {
	start := time.Now()
	count, err := s.active().DeleteBySource(ctx, sourceFile)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		count, err = s.memory.DeleteBySource(ctx, sourceFile)
	}
	s.monitor.RecordOp("delete_by_source", time.Since(start), err)
	return count, err
}

func (s *Service) Search(ctx context.Context, vector []float32, topK int, minScore float64, filter *domain.SearchFilter) ([]domain.SearchResult, error) {
	start := time.Now()
	hits, err := s.active().Search(ctx, vector, topK, minScore, filter)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		hits, err = s.memory.Search(ctx, vector, topK, minScore, filter)
	}
	s.monitor.RecordOp("search", time.Since(start), err)
	return hits, err
}

func (s *Service) BatchSearch(ctx context.Context, vectors [][]float32, topK int, minScore float64, filter *domain.SearchFilter) ([][]domain.SearchResult, error) {
	start := time.Now()
	hits, err := s.active().BatchSearch(ctx, vectors, topK, minScore, filter)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		hits, err = s.memory.BatchSearch(ctx, vectors, topK, minScore, filter)
	}
	s.monitor.RecordOp("batch_search", time.Since(start), err)
	return hits, err
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.DocumentSummary, error) {
	start := time.Now()
	summaries, err := s.active().List(ctx, limit, offset)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		summaries, err = s.memory.List(ctx, limit, offset)
	}
	s.monitor.RecordOp("list", time.Since(start), err)
	return summaries, err
}

func (s *Service) Stats(ctx context.Context) (*domain.StoreStats, error) {
	start := time.Now()
	stats, err := s.active().Stats(ctx)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		stats, err = s.memory.Stats(ctx)
	}
	s.monitor.RecordOp("stats", time.Since(start), err)
	return stats, err
}

func (s *Service) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.active().Clear(ctx)
	if degraded(err) && !s.fallback.Load() {
		s.switchToFallback(err)
		err = s.memory.Clear(ctx)
	}
	s.monitor.RecordOp("clear", time.Since(start), err)
	return err
}

// EnqueueInsert submits an async batch insert. The returned channel, when
// accepted, receives the batch result once. A false return means the queue
// rejected the operation.
func (s *Service) EnqueueInsert(chunks []domain.Chunk, priority Priority) (<-chan *domain.BatchResult, bool) {
	result := make(chan *domain.BatchResult, 1)
	op := &Operation{
		Type:     OpBatchInsert,
		Priority: priority,
		Chunks:   chunks,
		Result:   result,
	}
	if !s.queue.Enqueue(op) {
		s.monitor.RecordQueueRejection(s.queue.Len())
		return nil, false
	}
	s.monitor.RecordQueueDepth(s.queue.Len())
	return result, true
}

// EnqueueDeleteBySource submits an async filter delete.
func (s *Service) EnqueueDeleteBySource(sourceFile string, priority Priority) (<-chan *domain.BatchResult, bool) {
	result := make(chan *domain.BatchResult, 1)
	op := &Operation{
		Type:       OpBatchDelete,
		Priority:   priority,
		SourceFile: sourceFile,
		Result:     result,
	}
	if !s.queue.Enqueue(op) {
		s.monitor.RecordQueueRejection(s.queue.Len())
		return nil, false
	}
	s.monitor.RecordQueueDepth(s.queue.Len())
	return result, true
}

// EnqueueCleanup submits a low-priority cleanup pass.
func (s *Service) EnqueueCleanup() bool {
	ok := s.queue.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow})
	if !ok {
		s.monitor.RecordQueueRejection(s.queue.Len())
	}
	return ok
}

// worker drains the operation queue sequentially.
func (s *Service) worker(ctx context.Context) {
	for {
		op, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		s.execute(ctx, op)
	}
}

func (s *Service) execute(ctx context.Context, op *Operation) {
	start := time.Now()
	var result *domain.BatchResult
	var err error

	switch op.Type {
	case OpBatchInsert:
		result, err = s.UpsertBatch(ctx, op.Chunks)
	case OpBatchDelete:
		var count int
		count, err = s.DeleteBySource(ctx, op.SourceFile)
		result = &domain.BatchResult{Total: count, Successful: count}
		if err != nil {
			result = &domain.BatchResult{Errors: []string{err.Error()}}
		}
	case OpCleanup:
		runtime.GC()
		s.monitor.SampleMemory()
		result = &domain.BatchResult{}
	default:
		err = fmt.Errorf("%w: unknown operation type %s", domain.ErrInternal, op.Type)
	}

	if err != nil {
		s.logger.Warn("queued operation failed", "type", op.Type, "error", err)
	}
	s.monitor.RecordOp("queue_"+string(op.Type), time.Since(start), err)

	if op.Result != nil {
		if result == nil {
			result = &domain.BatchResult{}
			if err != nil {
				result.Errors = []string{err.Error()}
			}
		}
		op.Result <- result
	}
}
