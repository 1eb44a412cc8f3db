package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/glimchat/glim/internal/artifact"
)

// Artifacts handles artifact CRUD and model-assisted transforms.
type Artifacts struct {
	store  *artifact.Store
	editor *artifact.Editor
	logger *slog.Logger
}

// NewArtifacts creates an Artifacts handler.
func NewArtifacts(store *artifact.Store, editor *artifact.Editor, logger *slog.Logger) *Artifacts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Artifacts{store: store, editor: editor, logger: logger}
}

// RegisterRoutes mounts the artifact routes.
func (h *Artifacts) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations/{id}/artifacts", h.List)
	mux.HandleFunc("PUT /api/conversations/{id}/artifacts/{filename}", h.Save)
	mux.HandleFunc("GET /api/artifacts/{id}", h.Get)
	mux.HandleFunc("DELETE /api/artifacts/{id}", h.Delete)
	mux.HandleFunc("POST /api/artifacts/{id}/transform", h.Transform)
}

type artifactJSON struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversationId"`
	Filename       string        `json:"filename"`
	Type           artifact.Type `json:"type"`
	Language       string        `json:"language,omitempty"`
	Title          string        `json:"title,omitempty"`
	Content        string        `json:"content"`
	Version        int           `json:"version"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

func toArtifactJSON(a *artifact.Artifact) artifactJSON {
	return artifactJSON{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		Filename:       a.Filename,
		Type:           a.Type,
		Language:       a.Language,
		Title:          a.Title,
		Content:        a.Content,
		Version:        a.Version,
		UpdatedAt:      a.UpdatedAt,
	}
}

// List returns a conversation's artifacts.
func (h *Artifacts) List(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	artifacts, err := h.store.List(r.Context(), convID)
	if err != nil {
		h.logger.Error("listing artifacts", "conversation", convID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "listing artifacts failed")
		return
	}
	out := make([]artifactJSON, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, toArtifactJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// Save creates or updates an artifact. Updating bumps the version.
func (h *Artifacts) Save(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	filename := r.PathValue("filename")
	if err := artifact.ValidateFilename(filename); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid filename")
		return
	}

	var req struct {
		Type     artifact.Type `json:"type"`
		Language string        `json:"language"`
		Title    string        `json:"title"`
		Content  string        `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = artifact.TypeText
	}

	saved, err := h.store.Save(r.Context(), &artifact.Artifact{
		ConversationID: convID,
		Filename:       filename,
		Type:           req.Type,
		Language:       req.Language,
		Title:          req.Title,
		Content:        req.Content,
	})
	if err != nil {
		h.logger.Error("saving artifact", "conversation", convID, "filename", filename, "error", err)
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toArtifactJSON(saved))
}

// Get returns one artifact by ID.
func (h *Artifacts) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.store.ByID(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "loading artifact")
		return
	}
	writeJSON(w, http.StatusOK, toArtifactJSON(a))
}

// Delete removes one artifact.
func (h *Artifacts) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.notFoundOr500(w, err, "deleting artifact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transform applies a model-assisted edit and saves the next version.
func (h *Artifacts) Transform(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Action   artifact.Action `json:"action"`
		Argument string          `json:"argument"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	saved, err := h.editor.Apply(r.Context(), id, req.Action, req.Argument)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrNotFound):
			writeError(w, http.StatusNotFound, CodeNotFound, "not found")
		case errors.Is(err, artifact.ErrUnknownAction):
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		default:
			h.logger.Error("applying transform", "artifact", id, "action", req.Action, "error", err)
			writeError(w, http.StatusBadGateway, CodeInternal, "transform failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toArtifactJSON(saved))
}

func (h *Artifacts) notFoundOr500(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
		return
	}
	h.logger.Error(action, "error", err)
	writeError(w, http.StatusInternalServerError, CodeInternal, action+" failed")
}
