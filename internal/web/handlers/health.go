package handlers

import (
	"net/http"

	"github.com/glimchat/glim/internal/config"
)

// Health serves liveness and capability endpoints.
type Health struct {
	cfg *config.Config
}

// NewHealth creates a Health handler.
func NewHealth(cfg *config.Config) *Health {
	return &Health{cfg: cfg}
}

// RegisterRoutes mounts the health routes. They bypass auth so probes and
// login screens can reach them.
func (h *Health) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Live)
	mux.HandleFunc("GET /api/capabilities", h.Capabilities)
}

// Live reports process liveness.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// capabilities is what a fresh client needs before authenticating.
type capabilities struct {
	PasswordProtected bool     `json:"passwordProtected"`
	PermittedModels   []string `json:"permittedModels,omitempty"`
	DefaultModel      string   `json:"defaultModel"`
	UploadLimitMB     int      `json:"uploadLimitMb"`
}

// Capabilities reports server features and limits.
func (h *Health) Capabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, capabilities{
		PasswordProtected: h.cfg.PasswordProtected(),
		PermittedModels:   h.cfg.PermittedModels,
		DefaultModel:      h.cfg.ModelName,
		UploadLimitMB:     h.cfg.UploadLimitMB,
	})
}
