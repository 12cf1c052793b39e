package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/generation"
)

// Event names on a streamed POST /v1/generate response.
const (
	streamEventProgress = "progress"
	streamEventResult   = "result"
	streamEventError    = "error"
)

type progressEvent struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// HandleGenerate handles POST /v1/generate. Clients that send
// Accept: text/event-stream receive progress events followed by a single
// result or error event; everyone else gets one JSON response.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if h.maxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}

	var body model.GenerateRequest
	if err := decodeJSON(r, &body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	req, warnings, err := h.toRequest(body)
	for _, msg := range warnings {
		h.logger.Warn("generate: lenient field", "warning", msg, "request_id", RequestIDFromContext(r.Context()))
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if wantsEventStream(r) {
		h.streamGenerate(w, r, req, warnings)
		return
	}

	result, err := h.gen.Run(r.Context(), req, nil)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := h.buildResponse(r, result, warnings)
	writeJSON(w, r, http.StatusOK, resp)
}

// streamGenerate runs req while writing progress as Server-Sent Events.
func (h *Handlers) streamGenerate(w http.ResponseWriter, r *http.Request, req model.Request, warnings []string) {
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

	// Generation can outlast the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	var mu sync.Mutex
	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Warn("generate: marshal stream event", "event", event, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(formatSSE(event, string(data))); err != nil {
			return
		}
		flusher.Flush()
	}

	result, err := h.gen.Run(r.Context(), req, func(percent int, message string) {
		send(streamEventProgress, progressEvent{Percent: percent, Message: message})
	})
	if err != nil {
		send(streamEventError, streamError(err))
		return
	}
	send(streamEventResult, h.buildResponse(r, result, warnings))
}

// toRequest converts the wire body into a validated Request. Inline images
// are size-checked here; the MCP surface does the same for file paths.
func (h *Handlers) toRequest(body model.GenerateRequest) (model.Request, []string, error) {
	if len(body.InputImages) > model.MaxReferenceImages {
		return model.Request{}, nil, &model.ValidationError{Field: "input_images", Code: model.CodeFileCountExceeded,
			Message: fmt.Sprintf("maximum %d input images allowed", model.MaxReferenceImages)}
	}
	refs := make([]model.Image, 0, len(body.InputImages))
	for i, img := range body.InputImages {
		field := fmt.Sprintf("input_images[%d]", i)
		if len(img.Data) == 0 {
			return model.Request{}, nil, &model.ValidationError{Field: field, Code: model.CodeEmptyInput,
				Message: "input image is empty"}
		}
		if h.maxInputImageBytes > 0 && int64(len(img.Data)) > h.maxInputImageBytes {
			return model.Request{}, nil, &model.ValidationError{Field: field, Code: model.CodeSizeExceeded,
				Message: fmt.Sprintf("input image exceeds %d bytes", h.maxInputImageBytes)}
		}
		refs = append(refs, generation.SniffImage(img.Data, img.MIMEType))
	}

	return model.Params{
		Prompt:            body.Prompt,
		NegativePrompt:    body.NegativePrompt,
		SystemInstruction: body.SystemInstruction,
		ModelTier:         body.ModelTier,
		Resolution:        body.Resolution,
		AspectRatio:       body.AspectRatio,
		ThinkingLevel:     body.ThinkingLevel,
		EnableGrounding:   body.EnableGrounding,
		N:                 body.N,
		Mode:              body.Mode,
		References:        refs,
	}.ToRequest()
}

// buildResponse summarizes result, inlines thumbnails, and announces the
// new artifacts on the event stream.
func (h *Handlers) buildResponse(r *http.Request, result *model.BatchResult, warnings []string) model.GenerateResponse {
	resp := model.NewGenerateResponse(result, warnings)
	ids := make([]uuid.UUID, 0, len(resp.Artifacts))
	for i := range resp.Artifacts {
		a := &resp.Artifacts[i]
		ids = append(ids, a.ID)
		thumb, err := h.artifacts.GetThumbnail(r.Context(), a.ID)
		if err != nil {
			h.logger.Warn("generate: thumbnail unavailable", "artifact_id", a.ID, "error", err)
			continue
		}
		a.Thumbnail = thumb.Data
		a.ThumbnailMIMEType = thumb.MIMEType
	}
	if len(ids) > 0 {
		h.publish(model.EventArtifactsCreated, model.ArtifactEvent{ArtifactIDs: ids, Tier: resp.Tier, Count: len(ids)})
	}
	return resp
}

// streamError renders err the way writeServiceError would, for the body of
// an SSE error event.
func streamError(err error) model.ErrorDetail {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: verr.Message,
			Details: map[string]string{"field": verr.Field, "code": verr.Code}}
	case errors.Is(err, generation.ErrNoAdapter), errors.Is(err, generation.ErrStoreUnavailable):
		return model.ErrorDetail{Code: model.ErrCodeUnavailable, Message: err.Error()}
	default:
		return model.ErrorDetail{Code: model.ErrCodeInternalError, Message: "internal error"}
	}
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
