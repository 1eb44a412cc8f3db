package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/glimchat/glim/internal/plugin"
)

// Plugins handles manifest import, install and enablement.
type Plugins struct {
	registry *plugin.Registry
	fetcher  *plugin.Fetcher
	logger   *slog.Logger
}

// NewPlugins creates a Plugins handler.
func NewPlugins(registry *plugin.Registry, fetcher *plugin.Fetcher, logger *slog.Logger) *Plugins {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugins{registry: registry, fetcher: fetcher, logger: logger}
}

// RegisterRoutes mounts the plugin routes.
func (h *Plugins) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/plugins", h.List)
	mux.HandleFunc("POST /api/plugins/import", h.Import)
	mux.HandleFunc("POST /api/plugins/{id}/install", h.Install)
	mux.HandleFunc("POST /api/plugins/{id}/enabled", h.SetEnabled)
	mux.HandleFunc("DELETE /api/plugins/{id}", h.Remove)
}

type pluginJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logoUrl,omitempty"`
	Installed   bool   `json:"installed"`
	Enabled     bool   `json:"enabled"`
	ToolCount   int    `json:"toolCount"`
}

func (h *Plugins) toPluginJSON(m *plugin.Manifest) pluginJSON {
	id := m.NameForModel
	enabled := 0
	for _, decl := range h.registry.EnabledTools() {
		if strings.HasPrefix(decl.Name, id+plugin.Separator) {
			enabled++
		}
	}
	return pluginJSON{
		ID:          id,
		Name:        m.NameForHuman,
		Description: m.DescriptionForHuman,
		LogoURL:     m.LogoURL,
		Installed:   h.registry.Installed(id),
		Enabled:     enabled > 0,
		ToolCount:   enabled,
	}
}

// List returns all registered plugins and their state.
func (h *Plugins) List(w http.ResponseWriter, _ *http.Request) {
	manifests := h.registry.Manifests()
	out := make([]pluginJSON, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, h.toPluginJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// Import fetches a manifest from a URL and registers it.
func (h *Plugins) Import(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "url is required")
		return
	}

	m, err := h.fetcher.FetchManifest(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("manifest import failed", "url", req.URL, "error", err)
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err := h.registry.Register(m); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.toPluginJSON(m))
}

// Install resolves and validates the plugin's document. Inline documents
// install directly; otherwise the document is fetched from api.url.
func (h *Plugins) Install(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.registry.Manifest(id)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "plugin not registered")
		return
	}

	doc := m.Document
	if doc == nil {
		if m.API == nil || m.API.URL == "" {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "manifest declares no document source")
			return
		}
		var err error
		doc, err = h.fetcher.FetchDocument(r.Context(), m.API.URL)
		if err != nil {
			h.logger.Warn("document fetch failed", "plugin", id, "error", err)
			writeError(w, http.StatusBadGateway, CodeInternal, err.Error())
			return
		}
	}

	if err := h.registry.Install(id, doc); err != nil {
		status := http.StatusBadRequest
		code := CodeBadRequest
		if errors.Is(err, plugin.ErrInvalidManifest) {
			status, code = http.StatusUnprocessableEntity, CodeBadRequest
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.toPluginJSON(m))
}

// SetEnabled toggles the plugin's tools on or off.
func (h *Plugins) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	m, ok := h.registry.Manifest(id)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "plugin not registered")
		return
	}

	if !req.Enabled {
		h.registry.DisablePlugin(id)
		writeJSON(w, http.StatusOK, h.toPluginJSON(m))
		return
	}
	if err := h.registry.SetEnabled(id, true); err != nil {
		if errors.Is(err, plugin.ErrManifestNotResolvable) {
			writeError(w, http.StatusConflict, CodeConflict, "plugin must be installed before enabling")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.toPluginJSON(m))
}

// Remove disables, uninstalls and forgets a plugin.
func (h *Plugins) Remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.registry.Manifest(id); !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "plugin not registered")
		return
	}
	h.registry.DisablePlugin(id)
	h.registry.Uninstall(id)
	h.registry.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}
