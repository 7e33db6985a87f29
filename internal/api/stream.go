package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zerorag/zerorag/pkg/domain"
)

// Stream wire events. One JSON object per logical event.
type streamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	eventContent = "content"
	eventEnd     = "end"
	eventError   = "error"
)

// handleQueryStream serves a RAG query as server-sent events. Each token is
// a "content" event; the stream terminates with "end" or "error". The
// connection id is exposed in the X-Connection-ID header so clients can
// cancel through the connections API.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	q := domain.RAGQuery{IncludeSources: true}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.Join(domain.ErrInvalidInput, err))
		return
	}
	if q.Query == "" {
		writeError(w, errors.Join(domain.ErrInvalidInput, errors.New("query is required")))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("%w: streaming unsupported", domain.ErrInternal))
		return
	}

	registry := s.factory.Streams()
	connID, ctx := registry.Open(r.Context(), map[string]interface{}{
		"query":     q.Query,
		"transport": "sse",
	})
	defer func() { _ = registry.Close(connID) }()

	metrics := s.factory.Metrics()
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Connection-ID", connID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event streamEvent) {
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		registry.Touch(connID)
	}

	err := s.factory.RAG().QueryStream(ctx, q, func(chunk string) {
		send(streamEvent{Type: eventContent, Content: chunk})
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		send(streamEvent{Type: eventError, Message: err.Error()})
		return
	}

	metrics.QueriesTotal.WithLabelValues(domain.RAGStatusOK).Inc()
	send(streamEvent{Type: eventEnd})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The adapter carries no auth; origin policy is left to the deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleQueryWebSocket speaks the same event protocol over a websocket:
// the client sends one RAGQuery JSON message, the server answers with
// content events followed by end or error.
func (s *Server) handleQueryWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	q := domain.RAGQuery{IncludeSources: true}
	if err := conn.ReadJSON(&q); err != nil || q.Query == "" {
		_ = conn.WriteJSON(streamEvent{Type: eventError, Message: "expected a query message"})
		return
	}

	registry := s.factory.Streams()
	connID, ctx := registry.Open(r.Context(), map[string]interface{}{
		"query":     q.Query,
		"transport": "websocket",
	})
	defer func() { _ = registry.Close(connID) }()

	metrics := s.factory.Metrics()
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	err = s.factory.RAG().QueryStream(ctx, q, func(chunk string) {
		if writeErr := conn.WriteJSON(streamEvent{Type: eventContent, Content: chunk}); writeErr == nil {
			registry.Touch(connID)
		}
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		_ = conn.WriteJSON(streamEvent{Type: eventError, Message: err.Error()})
		return
	}

	metrics.QueriesTotal.WithLabelValues(domain.RAGStatusOK).Inc()
	_ = conn.WriteJSON(streamEvent{Type: eventEnd})
}
