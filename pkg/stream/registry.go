package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

// Connection statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Connection is one live streaming session. Cancel aborts the in-flight
// generation feeding the stream.
type Connection struct {
	ID           string                 `json:"connection_id"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	Status       string                 `json:"status"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	cancel context.CancelFunc
}

// Registry tracks streaming connections and reaps idle ones. All methods
// are safe for concurrent use; critical sections are O(1).
type Registry struct {
	idleTimeout time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	connections map[string]*Connection

	sweeper *cron.Cron
}

// NewRegistry starts the idle sweeper. Sweep interval and idle timeout come
// from the streaming config; zero values fall back to 5 and 30 minutes.
func NewRegistry(cfg *config.Config) *Registry {
	idleMinutes := cfg.Streaming.IdleTimeoutMinutes
	if idleMinutes <= 0 {
		idleMinutes = 30
	}
	sweepMinutes := cfg.Streaming.SweepIntervalMin
	if sweepMinutes <= 0 {
		sweepMinutes = 5
	}

	r := &Registry{
		idleTimeout: time.Duration(idleMinutes) * time.Minute,
		logger:      log.WithModule("stream"),
		connections: make(map[string]*Connection),
		sweeper:     cron.New(),
	}

	if _, err := r.sweeper.AddFunc(fmt.Sprintf("@every %dm", sweepMinutes), r.Sweep); err != nil {
		r.logger.Error("failed to schedule connection sweeper", "error", err)
	}
	r.sweeper.Start()
	return r
}

// Shutdown stops the sweeper and closes every connection.
func (r *Registry) Shutdown() {
	ctx := r.sweeper.Stop()
	<-ctx.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.connections {
		conn.cancel()
		conn.Status = StatusClosed
		delete(r.connections, id)
	}
}

// Open registers a new connection and returns its id with a derived context
// cancelled when the connection closes.
func (r *Registry) Open(ctx context.Context, metadata map[string]interface{}) (string, context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	conn := &Connection{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
		Metadata:     metadata,
		cancel:       cancel,
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()

	r.logger.Debug("stream connection opened", "connection_id", conn.ID)
	return conn.ID, connCtx
}

// Touch refreshes the idle clock. Called once per transmitted chunk.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[id]; ok {
		conn.LastActivity = time.Now()
	}
}

// Close cancels the connection's generation and removes the record.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, id)
	}
	conn.cancel()
	conn.Status = StatusClosed
	delete(r.connections, id)

	r.logger.Debug("stream connection closed", "connection_id", id)
	return nil
}

// Get returns a snapshot of one connection.
func (r *Registry) Get(id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok {
		return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, id)
	}
	snapshot := *conn
	return &snapshot, nil
}

// List returns snapshots of all active connections.
func (r *Registry) List() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		snapshot := *conn
		out = append(out, &snapshot)
	}
	return out
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Sweep cancels and removes connections idle beyond the timeout.
func (r *Registry) Sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.connections {
		if conn.LastActivity.Before(cutoff) {
			conn.cancel()
			conn.Status = StatusClosed
			delete(r.connections, id)
			r.logger.Info("reaped idle stream connection", "connection_id", id)
		}
	}
}
