// Package server provides the HTTP API for the FAQ bot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Answerer answers a single question.
type Answerer interface {
	Answer(ctx context.Context, question string) (models.AnswerResult, error)
}

// Server is the HTTP server for the FAQ bot API.
type Server struct {
	answerer Answerer
	index    vector.VectorIndex
	ledger   storage.Ledger // optional
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. ledger may be nil.
func NewServer(
	answerer Answerer,
	index vector.VectorIndex,
	ledger storage.Ledger,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		answerer: answerer,
		index:    index,
		ledger:   ledger,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	if s.config.Server.RateLimit > 0 {
		r.Use(newRateLimiter(s.config.Server.RateLimit, s.config.Server.RateBurst, time.Now).middleware)
	}

	r.Post("/api/ask", s.handleAsk)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	if s.config.Server.Tracing {
		return otelhttp.NewHandler(r, "faqbot")
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
