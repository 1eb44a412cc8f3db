package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate().
func validConfig() *Config {
	return &Config{
		APIKey:             "test-api-key-123456",
		ModelName:          DefaultModel,
		MaxHistoryMessages: 100,
		MaxToolTurns:       5,
		UploadLimitMB:      20,
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "glim",
		PostgresPassword:   "secret-password-value",
		PostgresDBName:     "glim",
		PostgresSSLMode:    "disable",
		Gateway: GatewayConfig{
			RequestTimeout:   30 * time.Second,
			MaxResponseBytes: 10 << 20,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"missing api key", func(c *Config) { c.APIKey = "" }, ErrMissingAPIKey},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{
			"default model not permitted",
			func(c *Config) { c.PermittedModels = []string{"gemini-2.5-pro"} },
			ErrInvalidModelName,
		},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port too high", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"postgres port zero", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{
			"gateway timeout too short",
			func(c *Config) { c.Gateway.RequestTimeout = 100 * time.Millisecond },
			ErrInvalidGatewayTimeout,
		},
		{"upload limit zero", func(c *Config) { c.UploadLimitMB = 0 }, ErrInvalidUploadLimit},
		{"tool turns zero", func(c *Config) { c.MaxToolTurns = 0 }, ErrInvalidMaxToolTurns},
		{"tool turns excessive", func(c *Config) { c.MaxToolTurns = 100 }, ErrInvalidMaxToolTurns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ClampsHistoryMessages(t *testing.T) {
	cfg := validConfig()
	cfg.MaxHistoryMessages = MaxAllowedHistoryMessages + 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.MaxHistoryMessages != MaxAllowedHistoryMessages {
		t.Errorf("MaxHistoryMessages = %d, want clamp to %d", cfg.MaxHistoryMessages, MaxAllowedHistoryMessages)
	}
}

func TestModelPermitted(t *testing.T) {
	cfg := validConfig()

	// Empty list permits everything.
	if !cfg.ModelPermitted("anything") {
		t.Error("empty permitted list should allow any model")
	}

	cfg.PermittedModels = []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	if !cfg.ModelPermitted("gemini-2.5-pro") {
		t.Error("listed model should be permitted")
	}
	if cfg.ModelPermitted("gemini-1.5-flash") {
		t.Error("unlisted model should not be permitted")
	}
}

func TestPasswordProtected(t *testing.T) {
	cfg := validConfig()
	if cfg.PasswordProtected() {
		t.Error("empty access code should not be protected")
	}
	cfg.AccessCode = "hunter2hunter2"
	if !cfg.PasswordProtected() {
		t.Error("non-empty access code should be protected")
	}
}

func TestMarshalJSON_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.APIKey = "super-secret-api-key-value"
	cfg.AccessCode = "super-secret-access-code"
	cfg.PostgresPassword = "super-secret-db-password"

	out := cfg.String()
	for _, secret := range []string{"super-secret-api-key-value", "super-secret-access-code", "super-secret-db-password"} {
		if strings.Contains(out, secret) {
			t.Errorf("String() leaked secret %q", secret)
		}
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("String() should contain mask placeholder")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in       string
		fullMask bool
	}{
		{"", false},
		{"short", true},
		{"12345678", true},
		{"a-much-longer-secret", false},
	}
	for _, tt := range tests {
		got := maskSecret(tt.in)
		if tt.in == "" {
			if got != "" {
				t.Errorf("maskSecret(%q) = %q, want empty", tt.in, got)
			}
			continue
		}
		if strings.Contains(got, tt.in) {
			t.Errorf("maskSecret(%q) = %q leaks input", tt.in, got)
		}
		if tt.fullMask && got != maskedValue {
			t.Errorf("maskSecret(%q) = %q, want full mask", tt.in, got)
		}
	}
}

func TestIsThinkingModel(t *testing.T) {
	cfg := validConfig()
	cfg.ThinkingModels = []string{"gemini-2.5-pro"}
	if !cfg.IsThinkingModel("gemini-2.5-pro") {
		t.Error("listed model should be a thinking model")
	}
	if cfg.IsThinkingModel("gemini-2.5-flash") {
		t.Error("unlisted model should not be a thinking model")
	}
}
