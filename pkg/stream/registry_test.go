package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(&config.Config{})
	t.Cleanup(r.Shutdown)
	return r
}

func TestOpenAndGet(t *testing.T) {
	r := newTestRegistry(t)

	id, connCtx := r.Open(context.Background(), map[string]interface{}{"query": "hello"})
	require.NotEmpty(t, id)
	require.NoError(t, connCtx.Err())

	conn, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, conn.Status)
	assert.Equal(t, "hello", conn.Metadata["query"])
	assert.Equal(t, 1, r.Len())
}

func TestCloseCancelsContext(t *testing.T) {
	r := newTestRegistry(t)

	id, connCtx := r.Open(context.Background(), nil)
	require.NoError(t, r.Close(id))

	assert.ErrorIs(t, connCtx.Err(), context.Canceled)
	assert.Equal(t, 0, r.Len())

	_, err := r.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseUnknown(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Close("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTouchKeepsConnectionAlive(t *testing.T) {
	r := newTestRegistry(t)

	id, _ := r.Open(context.Background(), nil)
	before, err := r.Get(id)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.Touch(id)

	after, err := r.Get(id)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))
}

func TestSweepReapsIdleConnections(t *testing.T) {
	r := newTestRegistry(t)

	idleID, idleCtx := r.Open(context.Background(), nil)
	activeID, activeCtx := r.Open(context.Background(), nil)

	r.mu.Lock()
	r.connections[idleID].LastActivity = time.Now().Add(-31 * time.Minute)
	r.mu.Unlock()

	r.Sweep()

	assert.ErrorIs(t, idleCtx.Err(), context.Canceled)
	assert.NoError(t, activeCtx.Err())
	assert.Equal(t, 1, r.Len())

	_, err := r.Get(idleID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Get(activeID)
	assert.NoError(t, err)
}

func TestShutdownClosesAll(t *testing.T) {
	r := NewRegistry(&config.Config{})

	_, ctx1 := r.Open(context.Background(), nil)
	_, ctx2 := r.Open(context.Background(), nil)

	r.Shutdown()

	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestListSnapshots(t *testing.T) {
	r := newTestRegistry(t)

	r.Open(context.Background(), nil)
	r.Open(context.Background(), nil)

	list := r.List()
	assert.Len(t, list, 2)
	for _, conn := range list {
		assert.Equal(t, StatusActive, conn.Status)
	}
}
