package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/session"
)

// SessionStore is the slice of the session store the handlers need.
type SessionStore interface {
	CreateConversation(ctx context.Context, title, model, systemPrompt string) (*session.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*session.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (*session.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*session.Message, error)
	UpdateMessageParts(ctx context.Context, id uuid.UUID, parts []session.Part) error
	RemoveMessage(ctx context.Context, id uuid.UUID) error
}

// Sessions handles conversation CRUD and message management.
type Sessions struct {
	store  SessionStore
	cfg    *config.Config
	logger *slog.Logger
}

// NewSessions creates a Sessions handler.
func NewSessions(store SessionStore, cfg *config.Config, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{store: store, cfg: cfg, logger: logger}
}

// RegisterRoutes mounts the session routes.
func (h *Sessions) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.Create)
	mux.HandleFunc("GET /api/conversations", h.List)
	mux.HandleFunc("GET /api/conversations/{id}", h.Get)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.Delete)
	mux.HandleFunc("PUT /api/conversations/{id}/title", h.Rename)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.Messages)
	mux.HandleFunc("PUT /api/messages/{id}", h.EditMessage)
	mux.HandleFunc("DELETE /api/messages/{id}", h.DeleteMessage)
}

type conversationJSON struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toConversationJSON(c *session.Conversation) conversationJSON {
	return conversationJSON{
		ID:           c.ID,
		Title:        c.Title,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type messageJSON struct {
	ID          uuid.UUID            `json:"id"`
	Role        session.Role         `json:"role"`
	Parts       []session.Part       `json:"parts"`
	Attachments []session.Attachment `json:"attachments,omitempty"`
	Sequence    int                  `json:"sequence"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func toMessageJSON(m *session.Message) messageJSON {
	return messageJSON{
		ID:          m.ID,
		Role:        m.Role,
		Parts:       m.Parts,
		Attachments: m.Attachments,
		Sequence:    m.SequenceNumber,
		CreatedAt:   m.CreatedAt,
	}
}

// Create starts a new conversation.
func (h *Sessions) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		Model        string `json:"model"`
		SystemPrompt string `json:"systemPrompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		req.Model = h.cfg.ModelName
	}
	if !h.cfg.ModelPermitted(req.Model) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "model not permitted")
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), req.Title, req.Model, req.SystemPrompt)
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "creating conversation failed")
		return
	}
	writeJSON(w, http.StatusCreated, toConversationJSON(conv))
}

// List returns conversations ordered by recent activity.
func (h *Sessions) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context(), 0)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "listing conversations failed")
		return
	}
	out := make([]conversationJSON, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one conversation.
func (h *Sessions) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	conv, err := h.store.Conversation(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "loading conversation")
		return
	}
	writeJSON(w, http.StatusOK, toConversationJSON(conv))
}

// Delete removes a conversation and its messages.
func (h *Sessions) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		h.notFoundOr500(w, err, "deleting conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rename updates a conversation's title.
func (h *Sessions) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "title is required")
		return
	}
	if err := h.store.UpdateTitle(r.Context(), id, req.Title); err != nil {
		h.notFoundOr500(w, err, "renaming conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages returns a conversation's history.
func (h *Sessions) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	msgs, err := h.store.Messages(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("loading messages", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "loading messages failed")
		return
	}
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// EditMessage replaces a message's content with the submitted revision.
func (h *Sessions) EditMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "text is required")
		return
	}
	if err := h.store.UpdateMessageParts(r.Context(), id, []session.Part{{Text: req.Text}}); err != nil {
		h.notFoundOr500(w, err, "editing message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage removes one message from history.
func (h *Sessions) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.RemoveMessage(r.Context(), id); err != nil {
		h.notFoundOr500(w, err, "deleting message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Sessions) notFoundOr500(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
		return
	}
	h.logger.Error(action, "error", err)
	writeError(w, http.StatusInternalServerError, CodeInternal, action+" failed")
}

// pathUUID parses the named path value as a UUID.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
