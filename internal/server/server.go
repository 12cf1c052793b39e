package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/ratelimit"
	"github.com/ashita-ai/gazou/internal/service/generation"
	"github.com/ashita-ai/gazou/internal/service/selection"
)

// Server is the gazou HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, MCPServer, Index.
type ServerConfig struct {
	// Required dependencies.
	Generation *generation.Service
	Artifacts  ArtifactStore
	Catalogue  selection.Catalogue
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer
	Index     IndexHealth

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxInputImageBytes  int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Generation:          cfg.Generation,
		Artifacts:           cfg.Artifacts,
		Catalogue:           cfg.Catalogue,
		Broker:              cfg.Broker,
		Index:               cfg.Index,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxInputImageBytes:  cfg.MaxInputImageBytes,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	// Generation is the only expensive operation, so it is the only one
	// limited. MCP traffic shares the same per-IP budget.
	generateRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, rejectRateLimited, cfg.Logger)

	mux := http.NewServeMux()

	mux.Handle("POST /v1/generate", generateRL(http.HandlerFunc(h.HandleGenerate)))

	mux.HandleFunc("GET /v1/artifacts/{id}", h.HandleGetArtifact)
	mux.HandleFunc("GET /v1/artifacts/{id}/thumbnail", h.HandleGetThumbnail)
	mux.HandleFunc("GET /v1/artifacts/{id}/meta", h.HandleGetArtifactMeta)
	mux.HandleFunc("DELETE /v1/artifacts/{id}", h.HandleDeleteArtifact)

	mux.HandleFunc("GET /v1/tiers", h.HandleTiers)

	// Event stream (no rate limit, long-lived connection).
	mux.HandleFunc("GET /v1/events", h.HandleSubscribe)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", generateRL(mcpHTTP))
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
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

// rejectRateLimited writes the 429 body for ratelimit.Middleware.
func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
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
