// Package server exposes the REST and websocket surface the desktop shell
// talks to: workflow editing for RAG Studio, chat message submission, and
// the event feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/config"
)

// Server owns the HTTP listener and route table.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	http   *http.Server
}

// Handlers collects the wired route handlers.
type Handlers struct {
	Workflows *WorkflowHandler
	Messages  *MessageHandler
	Personas  *PersonaHandler
	Health    *HealthHandler
	Events    *EventHub
}

// New assembles the route table with logging and rate limiting applied to
// the API surface. Probes and metrics bypass the rate limiter.
func New(cfg config.ServerConfig, h Handlers, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.Health)
	mux.HandleFunc("GET /readiness", h.Health.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/workflows", h.Workflows.List)
	api.HandleFunc("POST /api/v1/workflows", h.Workflows.Create)
	api.HandleFunc("GET /api/v1/workflows/{id}", h.Workflows.Get)
	api.HandleFunc("PUT /api/v1/workflows/{id}", h.Workflows.Save)
	api.HandleFunc("DELETE /api/v1/workflows/{id}", h.Workflows.Delete)
	api.HandleFunc("PATCH /api/v1/workflows/{id}/positions", h.Workflows.UpdatePositions)
	api.HandleFunc("POST /api/v1/workflows/{id}/connections", h.Workflows.AddConnection)
	api.HandleFunc("DELETE /api/v1/workflows/{id}/connections/{connId}", h.Workflows.DeleteConnection)
	api.HandleFunc("PATCH /api/v1/workflows/{id}/nodes/{nodeId}/config", h.Workflows.UpdateNodeConfig)
	api.HandleFunc("POST /api/v1/workflows/{id}/undo", h.Workflows.Undo)
	api.HandleFunc("POST /api/v1/workflows/{id}/redo", h.Workflows.Redo)
	api.HandleFunc("GET /api/v1/templates", h.Workflows.ListTemplates)

	api.HandleFunc("POST /api/v1/messages", h.Messages.Post)
	api.HandleFunc("GET /api/v1/conversations", h.Messages.ListConversations)
	api.HandleFunc("GET /api/v1/conversations/{id}/messages", h.Messages.History)
	api.HandleFunc("DELETE /api/v1/conversations/{id}", h.Messages.DeleteConversation)

	api.HandleFunc("GET /api/v1/personas", h.Personas.List)
	api.HandleFunc("GET /api/v1/personas/{id}", h.Personas.Get)

	api.HandleFunc("GET /api/v1/events/ws", h.Events.ServeWS)

	mux.Handle("/api/v1/", chain(api,
		LoggingMiddleware(logger),
		RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst),
	))

	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
