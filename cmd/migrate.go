package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimchat/glim/internal/config"
	"github.com/glimchat/glim/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := newLogger(cfg.DevMode)

		if err := database.Migrate(cfg.ConnString()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	},
}
