package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/model"
)

// HandleGetArtifact handles GET /v1/artifacts/{id}. The body is the raw
// image.
func (h *Handlers) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseArtifactID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	blob, err := h.artifacts.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeBlob(w, id, blob)
}

// HandleGetThumbnail handles GET /v1/artifacts/{id}/thumbnail.
func (h *Handlers) HandleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := parseArtifactID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	blob, err := h.artifacts.GetThumbnail(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeBlob(w, id, blob)
}

// HandleGetArtifactMeta handles GET /v1/artifacts/{id}/meta.
func (h *Handlers) HandleGetArtifactMeta(w http.ResponseWriter, r *http.Request) {
	id, err := parseArtifactID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	a, err := h.artifacts.Lookup(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// HandleDeleteArtifact handles DELETE /v1/artifacts/{id}.
func (h *Handlers) HandleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseArtifactID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.artifacts.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.publish(model.EventArtifactsDeleted, model.ArtifactEvent{ArtifactIDs: []uuid.UUID{id}, Count: 1})
	w.WriteHeader(http.StatusNoContent)
}

// writeBlob writes image bytes. Artifacts are immutable, so clients may
// cache them until they expire server-side.
func writeBlob(w http.ResponseWriter, id uuid.UUID, blob artifact.Blob) {
	w.Header().Set("Content-Type", blob.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600, immutable")
	w.Header().Set("ETag", `"`+id.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}
