package store

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/zerorag/zerorag/pkg/domain"
)

// OpType identifies an asynchronous store operation.
type OpType string

const (
	OpBatchInsert OpType = "BATCH_INSERT"
	OpBatchDelete OpType = "BATCH_DELETE"
	OpCleanup     OpType = "COLLECTION_CLEANUP"
)

// Priority orders queued operations. Lower values run first; ties break by
// enqueue order.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Operation is one queued unit of work. Result, when non-nil, receives the
// outcome exactly once; it must be buffered.
type Operation struct {
	Type       OpType
	Priority   Priority
	Chunks     []domain.Chunk
	SourceFile string
	Result     chan *domain.BatchResult

	EnqueuedAt time.Time
	seq        uint64
}

// OpQueue is a bounded priority queue drained by a single worker. Producers
// enqueue under a lock; the worker is woken through a signal channel.
type OpQueue struct {
	mu     sync.Mutex
	heap   opHeap
	max    int
	seq    uint64
	notify chan struct{}
	closed bool
}

func NewOpQueue(maxSize int) *OpQueue {
	return &OpQueue{
		max:    maxSize,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds an operation. It returns false without blocking when the
// queue is full or closed.
func (q *OpQueue) Enqueue(op *Operation) bool {
	q.mu.Lock()
	if q.closed || len(q.heap) >= q.max {
		q.mu.Unlock()
		return false
	}

	q.seq++
	op.seq = q.seq
	op.EnqueuedAt = time.Now()
	heap.Push(&q.heap, op)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an operation is available or the context ends.
func (q *OpQueue) Dequeue(ctx context.Context) (*Operation, error) {
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			op := heap.Pop(&q.heap).(*Operation)
			q.mu.Unlock()
			return op, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *OpQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close rejects further enqueues. Pending operations can still be drained.
func (q *OpQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

type opHeap []*Operation

func (h opHeap) Len() int { return len(h) }

func (h opHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x interface{}) { *h = append(*h, x.(*Operation)) }

func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}
