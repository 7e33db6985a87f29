package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpQueuePriorityOrder(t *testing.T) {
	q := NewOpQueue(10)

	require.True(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow}))
	require.True(t, q.Enqueue(&Operation{Type: OpBatchInsert, Priority: PriorityNormal}))
	require.True(t, q.Enqueue(&Operation{Type: OpBatchDelete, Priority: PriorityHigh}))

	ctx := context.Background()

	op, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpBatchDelete, op.Type)

	op, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpBatchInsert, op.Type)

	op, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpCleanup, op.Type)
}

func TestOpQueueFIFOWithinPriority(t *testing.T) {
	q := NewOpQueue(10)

	require.True(t, q.Enqueue(&Operation{Type: OpBatchDelete, Priority: PriorityNormal, SourceFile: "first"}))
	require.True(t, q.Enqueue(&Operation{Type: OpBatchDelete, Priority: PriorityNormal, SourceFile: "second"}))
	require.True(t, q.Enqueue(&Operation{Type: OpBatchDelete, Priority: PriorityNormal, SourceFile: "third"}))

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		op, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, op.SourceFile)
	}
}

func TestOpQueueBackpressure(t *testing.T) {
	q := NewOpQueue(2)

	assert.True(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow}))
	assert.True(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow}))
	assert.False(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityHigh}),
		"enqueue at capacity must be rejected regardless of priority")
	assert.Equal(t, 2, q.Len())
}

func TestOpQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewOpQueue(10)

	done := make(chan *Operation, 1)
	go func() {
		op, err := q.Dequeue(context.Background())
		if err == nil {
			done <- op
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.Enqueue(&Operation{Type: OpBatchInsert, Priority: PriorityHigh}))

	select {
	case op := <-done:
		assert.Equal(t, OpBatchInsert, op.Type)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestOpQueueDequeueCancellation(t *testing.T) {
	q := NewOpQueue(10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpQueueClosedRejectsEnqueue(t *testing.T) {
	q := NewOpQueue(10)
	require.True(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow}))

	q.Close()
	assert.False(t, q.Enqueue(&Operation{Type: OpCleanup, Priority: PriorityLow}))

	// Pending items remain drainable.
	op, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OpCleanup, op.Type)
}
