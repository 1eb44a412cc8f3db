// Package cmd provides the glim CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - migrate: apply pending database migrations
//   - version: print build information
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/glimchat/glim/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "glim",
	Short:         "Glim is a pluggable chat backend for generative language models",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

// ExecuteContext runs the CLI under the given context, which carries the
// process signal cancellation into long-running commands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger. DEBUG=1 or dev mode lowers the
// level; JSON output is used outside dev mode.
func newLogger(devMode bool) log.Logger {
	level := slog.LevelInfo
	if devMode || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: !devMode})
}
