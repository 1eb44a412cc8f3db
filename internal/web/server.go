// Package web provides the HTTP API server: chat streaming, session CRUD,
// plugin management, artifact editing and the gateway relay endpoint.
package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/glimchat/glim/internal/artifact"
	"github.com/glimchat/glim/internal/chat"
	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/gateway"
	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/session"
	"github.com/glimchat/glim/internal/web/handlers"
)

// Server is the HTTP API server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	cfg    *config.Config
}

// ServerConfig contains the server's dependencies.
type ServerConfig struct {
	Logger        *slog.Logger
	Config        *config.Config
	Orchestrator  *chat.Orchestrator
	SessionStore  *session.Store
	ArtifactStore *artifact.Store
	Editor        *artifact.Editor
	Registry      *plugin.Registry
	Fetcher       *plugin.Fetcher
	Gateway       *gateway.Client
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("plugin registry is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("gateway client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	handlers.NewHealth(cfg.Config).RegisterRoutes(mux)
	handlers.NewSessions(cfg.SessionStore, cfg.Config, cfg.Logger).RegisterRoutes(mux)
	handlers.NewChat(cfg.Orchestrator, cfg.Logger).RegisterRoutes(mux)
	handlers.NewPlugins(cfg.Registry, cfg.Fetcher, cfg.Logger).RegisterRoutes(mux)
	if cfg.ArtifactStore != nil && cfg.Editor != nil {
		handlers.NewArtifacts(cfg.ArtifactStore, cfg.Editor, cfg.Logger).RegisterRoutes(mux)
	}

	// The relay the browser uses for direct plugin calls.
	mux.Handle("POST /api/gateway", cfg.Gateway.Handler())

	return &Server{mux: mux, logger: cfg.Logger, cfg: cfg.Config}, nil
}

// ServeHTTP implements http.Handler with the middleware stack:
// Recovery -> Logging -> AccessCode -> Routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setSecurityHeaders(w)

	var handler http.Handler = s.mux
	handler = RequireAccessCode(s.cfg.AccessCode, s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler.ServeHTTP(w, r)
}

func (s *Server) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}
