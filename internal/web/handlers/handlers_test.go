package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

func TestHealth_Capabilities(t *testing.T) {
	cfg := &config.Config{
		AccessCode:      "secret",
		PermittedModels: []string{"gemini-2.5-flash"},
		ModelName:       "gemini-2.5-flash",
		UploadLimitMB:   8,
	}
	mux := http.NewServeMux()
	NewHealth(cfg).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capabilities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got capabilities
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.PasswordProtected {
		t.Error("passwordProtected = false")
	}
	if got.DefaultModel != "gemini-2.5-flash" || got.UploadLimitMB != 8 {
		t.Errorf("capabilities = %+v", got)
	}
}

func pluginsHandler(t *testing.T) (*Plugins, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry(log.NewNop())
	fetcher := plugin.NewFetcher(nil, log.NewNop())
	return NewPlugins(reg, fetcher, log.NewNop()), reg
}

func inlineManifest(id string) *plugin.Manifest {
	return &plugin.Manifest{
		NameForModel: id,
		NameForHuman: id,
		Document: &plugin.Document{
			Servers: []plugin.Server{{URL: "https://api.example.com"}},
			Paths: map[string]plugin.PathItem{
				"/search": {Get: &plugin.Operation{
					OperationID: "search",
					Parameters:  []plugin.Parameter{{Name: "q", In: plugin.InQuery}},
				}},
			},
		},
	}
}

func TestPlugins_InstallEnableRemove(t *testing.T) {
	h, reg := pluginsHandler(t)
	if err := reg.Register(inlineManifest("acme")); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Install uses the inline document.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/acme/install", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("install status = %d: %s", rec.Code, rec.Body.String())
	}
	if !reg.Installed("acme") {
		t.Fatal("plugin not installed")
	}

	// Enable.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/acme/enabled",
		strings.NewReader(`{"enabled":true}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d: %s", rec.Code, rec.Body.String())
	}
	var state pluginJSON
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.Enabled || state.ToolCount != 1 {
		t.Errorf("state = %+v", state)
	}
	if !reg.ToolEnabled("acme__search") {
		t.Error("tool not enabled")
	}

	// List reflects the state.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plugins", nil))
	var list []pluginJSON
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Installed {
		t.Errorf("list = %+v", list)
	}

	// Remove cleans everything up.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/plugins/acme", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d", rec.Code)
	}
	if reg.ToolEnabled("acme__search") {
		t.Error("tool survived removal")
	}
	if _, ok := reg.Manifest("acme"); ok {
		t.Error("manifest survived removal")
	}
}

func TestPlugins_EnableUninstalledConflicts(t *testing.T) {
	h, reg := pluginsHandler(t)
	m := inlineManifest("acme")
	m.Document = nil
	m.API = &plugin.APIRef{Type: "openapi", URL: "https://acme.example.com/openapi.json"}
	if err := reg.Register(m); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/acme/enabled",
		strings.NewReader(`{"enabled":true}`)))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPlugins_ImportFromURL(t *testing.T) {
	manifest := `{
		"schema_version": "v1",
		"name_for_model": "acme",
		"name_for_human": "Acme Search",
		"api": {"type": "openapi", "url": "https://acme.example.com/openapi.json"}
	}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(manifest))
	}))
	defer upstream.Close()

	h, reg := pluginsHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/import",
		strings.NewReader(`{"url":"`+upstream.URL+`"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := reg.Manifest("acme"); !ok {
		t.Error("manifest not registered")
	}
}

func TestPlugins_UnknownPluginIs404(t *testing.T) {
	h, _ := pluginsHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/ghost/install", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPathUUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := pathUUID(w, r, "id"); ok {
			w.WriteHeader(http.StatusOK)
		}
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid uuid status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/7f4cb4f1-90f5-4bd4-9f8c-1a2b3c4d5e6f", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("valid uuid status = %d", rec.Code)
	}
}
