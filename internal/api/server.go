package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/log"
	"github.com/zerorag/zerorag/pkg/services"
)

// Server is the HTTP adapter over the service factory. It owns no business
// state; every handler delegates to a factory-owned service.
type Server struct {
	cfg     *config.Config
	factory *services.Factory
	logger  *slog.Logger
	router  chi.Router
	http    *http.Server
}

func NewServer(cfg *config.Config, factory *services.Factory) *Server {
	s := &Server{
		cfg:     cfg,
		factory: factory,
		logger:  log.WithModule("api"),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Delete("/{source}", s.handleDeleteDocument)
			r.Post("/validate", s.handleValidateUpload)
			r.Post("/upload", s.handleUpload)
			r.Get("/upload/{id}/progress", s.handleUploadProgress)
		})

		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)
		r.Get("/query/ws", s.handleQueryWebSocket)

		r.Get("/health", s.handleHealth)
		r.Get("/connections", s.handleListConnections)
		r.Delete("/connections/{id}", s.handleCloseConnection)
	})

	r.Handle("/metrics", s.factory.Metrics().Handler())
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
