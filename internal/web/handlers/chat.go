package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/glimchat/glim/internal/chat"
	"github.com/glimchat/glim/internal/session"
	"github.com/glimchat/glim/internal/web/sse"
)

// Chat handles turn submission and streams the response over SSE.
type Chat struct {
	orch   *chat.Orchestrator
	logger *slog.Logger
}

// NewChat creates a Chat handler.
func NewChat(orch *chat.Orchestrator, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{orch: orch, logger: logger}
}

// RegisterRoutes mounts the chat routes.
func (h *Chat) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations/{id}/chat", h.Send)
	mux.HandleFunc("POST /api/conversations/{id}/regenerate", h.Regenerate)
	mux.HandleFunc("POST /api/conversations/{id}/stop", h.Stop)
}

// Send submits one user turn. The response is an SSE stream carrying the
// turn's events: message, thought, answer, statement, call lifecycle, done,
// error.
func (h *Chat) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Text        string               `json:"text"`
		Attachments []session.Attachment `json:"attachments"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "text or attachments required")
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sink := &sseSink{ctx: ctx, writer: writer, logger: h.logger}
	if err := h.orch.Submit(ctx, id, req.Text, req.Attachments, sink); err != nil {
		// The sink already delivered a structured error event where one
		// applies; this logs the terminal cause.
		h.logger.Debug("turn ended with error", "conversation", id, "error", err)
	}
	sink.done()
}

// Regenerate revokes the latest model response and streams a fresh one over
// SSE, using the same event vocabulary as Send.
func (h *Chat) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sink := &sseSink{ctx: ctx, writer: writer, logger: h.logger}
	if err := h.orch.Regenerate(ctx, id, sink); err != nil {
		h.logger.Debug("regenerate ended with error", "conversation", id, "error", err)
	}
	sink.done()
}

// Stop cancels the conversation's in-flight turn.
func (h *Chat) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	stopped := h.orch.Stop(id)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// sseSink adapts an SSE writer to the orchestrator's event sink. Write
// failures are logged and swallowed: a gone client must not abort the turn,
// which continues so history stays consistent.
type sseSink struct {
	ctx    context.Context
	writer *sse.Writer
	logger *slog.Logger
}

func (s *sseSink) emit(event string, payload any) {
	if err := s.writer.Event(s.ctx, event, payload); err != nil {
		s.logger.Debug("dropping sse event", "event", event, "error", err)
	}
}

func (s *sseSink) Thought(text string) { s.emit("thought", map[string]string{"text": text}) }
func (s *sseSink) Answer(text string)  { s.emit("answer", map[string]string{"text": text}) }
func (s *sseSink) Statement(sentence string) {
	s.emit("statement", map[string]string{"text": sentence})
}

func (s *sseSink) MessageAppended(msg *session.Message) {
	s.emit("message", toMessageJSON(msg))
}

func (s *sseSink) MessageRetracted(id uuid.UUID) {
	s.emit("retracted", map[string]uuid.UUID{"id": id})
}

func (s *sseSink) CallPending(name string) {
	s.emit("call", map[string]string{"name": name, "status": "pending"})
}

func (s *sseSink) CallSettled(name string) {
	s.emit("call", map[string]string{"name": name, "status": "settled"})
}

func (s *sseSink) CallFailed(name string, code int, message string) {
	s.emit("callError", map[string]any{"name": name, "code": code, "message": message})
}

func (s *sseSink) TurnFinished() {
	s.emit("finished", struct{}{})
}

func (s *sseSink) TurnFailed(code int, message string) {
	s.emit("error", apiError{Code: code, Message: message})
}

func (s *sseSink) done() {
	s.emit("done", struct{}{})
}
