package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/services"
)

const maxUploadMemory = 16 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRetrievalFailed), errors.Is(err, domain.ErrGenerationFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type validateRequest struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type,omitempty"`
}

func (s *Server) handleValidateUpload(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(domain.ErrInvalidInput, err))
		return
	}
	writeJSON(w, http.StatusOK, s.factory.Ingest().ValidateUpload(req.Filename, req.FileSize, req.ContentType))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, errors.Join(domain.ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.Join(domain.ErrInvalidInput, err))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}

	documentID, err := s.factory.Ingest().StartIngest(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": documentID,
		"filename":    header.Filename,
		"progress":    "/api/documents/upload/" + documentID + "/progress",
	})
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	record, err := s.factory.Ingest().GetProgress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	documents, err := s.factory.Store().List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	deleted, err := s.factory.Ingest().DeleteDocument(r.Context(), source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source_file":    source,
		"chunks_deleted": deleted,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	// Sources are attached unless the request explicitly opts out.
	q := domain.RAGQuery{IncludeSources: true}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.Join(domain.ErrInvalidInput, err))
		return
	}
	if q.Query == "" {
		writeError(w, errors.Join(domain.ErrInvalidInput, errors.New("query is required")))
		return
	}

	metrics := s.factory.Metrics()
	resp, err := s.factory.RAG().Query(r.Context(), q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}

	metrics.QueriesTotal.WithLabelValues(resp.Status).Inc()
	metrics.QueryDuration.Observe(resp.ResponseTime.Seconds())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.factory.Snapshot()

	status := http.StatusOK
	if snapshot.Overall == services.OverallUnhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         snapshot.Overall,
		"services":       snapshot.Services,
		"trend":          s.factory.Trend(),
		"uptime_seconds": s.factory.Uptime().Seconds(),
		"fallback_mode":  s.factory.Store().FallbackMode(),
		"alerts":         s.factory.Alerts(),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.factory.Streams().List(),
	})
}

func (s *Server) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.factory.Streams().Close(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connection_id": id, "status": "closed"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
