package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iofold/iofold/internal/service/importer"
)

// Server is the iofold HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	ImportSvc *importer.Service
	Pinger    Pinger
	Logger    *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		ImportSvc:           cfg.ImportSvc,
		Pinger:              cfg.Pinger,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Trace ingestion.
	mux.HandleFunc("POST /v1/traces/{source}", h.HandleImportTrace)
	mux.HandleFunc("POST /v1/traces/{source}/batch", h.HandleImportBatch)

	// Trace queries.
	mux.HandleFunc("GET /v1/traces", h.HandleListTraces)
	mux.HandleFunc("GET /v1/traces/{trace_id}", h.HandleGetTrace)
	mux.HandleFunc("DELETE /v1/traces/{trace_id}", h.HandleDeleteTrace)

	// Adapter discovery.
	mux.HandleFunc("GET /v1/sources", h.HandleListSources)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
