package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/generation"
	"github.com/ashita-ai/gazou/internal/service/selection"
)

// ArtifactStore is the read and delete side of the artifact store.
type ArtifactStore interface {
	Lookup(ctx context.Context, id uuid.UUID) (model.Artifact, error)
	Get(ctx context.Context, id uuid.UUID) (artifact.Blob, error)
	GetThumbnail(ctx context.Context, id uuid.UUID) (artifact.Blob, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// IndexHealth is the artifact index as seen by /health.
type IndexHealth interface {
	Ping(ctx context.Context) error
	CountArtifacts(ctx context.Context) (int, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	gen                 *generation.Service
	artifacts           ArtifactStore
	catalogue           selection.Catalogue
	broker              *Broker
	index               IndexHealth
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	maxInputImageBytes  int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, Index.
type HandlersDeps struct {
	Generation          *generation.Service
	Artifacts           ArtifactStore
	Catalogue           selection.Catalogue
	Broker              *Broker
	Index               IndexHealth
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	MaxInputImageBytes  int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		gen:                 d.Generation,
		artifacts:           d.Artifacts,
		catalogue:           d.Catalogue,
		broker:              d.Broker,
		index:               d.Index,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxInputImageBytes:  d.MaxInputImageBytes,
	}
}

// publish forwards an event to the broker when one is configured.
func (h *Handlers) publish(eventType string, payload any) {
	if h.broker != nil {
		h.broker.Publish(eventType, payload)
	}
}

// HandleSubscribe handles GET /v1/events (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "event stream not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Index:   "connected",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if h.index != nil {
		if err := h.index.Ping(r.Context()); err != nil {
			resp.Index = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else if n, err := h.index.CountArtifacts(r.Context()); err == nil {
			resp.Artifacts = n
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleTiers handles GET /v1/tiers.
func (h *Handlers) HandleTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"tiers": h.catalogue.Ordered()})
}

// writeServiceError maps service and store errors onto the API envelope.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetails(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Message,
			map[string]string{"field": verr.Field, "code": verr.Code})
	case errors.Is(err, artifact.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "artifact not found or expired")
	case errors.Is(err, generation.ErrNoAdapter):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no backend is configured for the selected tier")
	case errors.Is(err, generation.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "images were generated but could not be stored")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// parseArtifactID reads the {id} path value.
func parseArtifactID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &model.ValidationError{Field: "id", Code: model.CodeInvalidFormat, Message: "invalid artifact id"}
	}
	return id, nil
}
