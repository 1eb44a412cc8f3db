package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for correctness.
// Called by Load() immediately after unmarshal (fail-fast).
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if !c.ModelPermitted(c.ModelName) {
		return fmt.Errorf("%w: default model %q is not in permitted_models", ErrInvalidModelName, c.ModelName)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}

	if c.Gateway.RequestTimeout < time.Second || c.Gateway.RequestTimeout > 10*time.Minute {
		return fmt.Errorf("%w: %v out of range [1s, 10m]", ErrInvalidGatewayTimeout, c.Gateway.RequestTimeout)
	}

	if c.UploadLimitMB < 1 || c.UploadLimitMB > 2048 {
		return fmt.Errorf("%w: %d MB out of range [1, 2048]", ErrInvalidUploadLimit, c.UploadLimitMB)
	}

	if c.MaxToolTurns < 1 || c.MaxToolTurns > 25 {
		return fmt.Errorf("%w: %d out of range [1, 25]", ErrInvalidMaxToolTurns, c.MaxToolTurns)
	}

	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if c.MaxHistoryMessages > MaxAllowedHistoryMessages {
		c.MaxHistoryMessages = MaxAllowedHistoryMessages
	}

	return nil
}
