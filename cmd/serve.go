package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/glimchat/glim/internal/artifact"
	"github.com/glimchat/glim/internal/chat"
	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/database"
	"github.com/glimchat/glim/internal/dispatch"
	"github.com/glimchat/glim/internal/gateway"
	"github.com/glimchat/glim/internal/observability"
	"github.com/glimchat/glim/internal/plugin"
	"github.com/glimchat/glim/internal/plugins"
	"github.com/glimchat/glim/internal/session"
	"github.com/glimchat/glim/internal/web"
)

// Server timeout configuration. Write and idle allow long SSE streams.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.DevMode)
	logger.Info("starting glim", "version", Version, "addr", cfg.ListenAddr)

	shutdownTracing, err := observability.Setup(ctx, cfg.OTel, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	if err := database.Migrate(cfg.ConnString()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	sessionStore := session.NewStore(pool, logger.With("component", "session"))
	artifactStore := artifact.NewStore(pool, logger.With("component", "artifact"))

	registry := plugin.NewRegistry(logger.With("component", "plugin"))
	gatewayClient := gateway.NewClient(logger.With("component", "gateway"),
		gateway.WithTimeout(cfg.Gateway.RequestTimeout),
		gateway.WithMaxResponseBytes(cfg.Gateway.MaxResponseBytes),
	)
	dispatcher := dispatch.New(registry, gatewayClient, cfg.Gateway.RequestTimeout,
		logger.With("component", "dispatch"))

	if err := plugins.Register(registry, dispatcher, plugins.All(cfg, logger)); err != nil {
		return fmt.Errorf("registering built-in plugins: %w", err)
	}

	generator := chat.NewGenerator(genaiClient)
	orch, err := chat.New(chat.Config{
		Generator:          generator,
		Store:              sessionStore,
		Registry:           registry,
		Dispatcher:         dispatcher,
		Logger:             logger.With("component", "chat"),
		DefaultModel:       cfg.ModelName,
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxOutputTokens,
		MaxToolTurns:       cfg.MaxToolTurns,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		IsThinkingModel:    cfg.IsThinkingModel,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	editor := artifact.NewEditor(artifactStore, generator, cfg.ModelName,
		logger.With("component", "artifact"))

	server, err := web.NewServer(web.ServerConfig{
		Logger:        logger.With("component", "web"),
		Config:        cfg,
		Orchestrator:  orch,
		SessionStore:  sessionStore,
		ArtifactStore: artifactStore,
		Editor:        editor,
		Registry:      registry,
		Fetcher:       plugin.NewFetcher(nil, logger.With("component", "plugin")),
		Gateway:       gatewayClient,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server ready", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
