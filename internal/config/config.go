// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.glim/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Model: Gemini API key, default model, permitted model list, thinking variants
//   - Access: optional access code gate and upload size limit
//   - Storage: PostgreSQL connection
//   - Gateway: outbound relay timeouts and limits
//   - Plugins: built-in handler settings (search endpoint, reader)
//   - Observability: OTLP trace export
//
// Security: sensitive values (API key, access code, database password) are
// masked in MarshalJSON and never logged. Validation is fail-fast at Load().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the default model is empty or not permitted.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidGatewayTimeout indicates the gateway request timeout is out of range.
	ErrInvalidGatewayTimeout = errors.New("invalid gateway timeout")

	// ErrInvalidUploadLimit indicates the upload size limit is out of range.
	ErrInvalidUploadLimit = errors.New("invalid upload size limit")

	// ErrInvalidMaxToolTurns indicates the tool-turn limit is out of range.
	ErrInvalidMaxToolTurns = errors.New("invalid max tool turns")
)

const (
	// DefaultModel is the default Gemini model for conversations.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxHistoryMessages is the default number of messages to load per turn.
	DefaultMaxHistoryMessages int32 = 100

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 10000
)

// GatewayConfig configures the outbound HTTP relay.
type GatewayConfig struct {
	// RequestTimeout bounds a single relayed request end to end.
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// MaxResponseBytes caps the relayed response body. 0 = unlimited.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes" json:"max_response_bytes"`
}

// SearchConfig configures the built-in web search handler (SearXNG-backed).
type SearchConfig struct {
	BaseURL    string `mapstructure:"base_url" json:"base_url"`
	MaxResults int    `mapstructure:"max_results" json:"max_results"`
}

// ReaderConfig configures the built-in URL reader handler.
type ReaderConfig struct {
	TimeoutMS    int   `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Model configuration
	APIKey          string   `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName       string   `mapstructure:"model_name" json:"model_name"`
	PermittedModels []string `mapstructure:"permitted_models" json:"permitted_models"` // empty = all permitted
	ThinkingModels  []string `mapstructure:"thinking_models" json:"thinking_models"`   // models whose streams carry a thought channel
	Temperature     float32  `mapstructure:"temperature" json:"temperature"`
	MaxOutputTokens int32    `mapstructure:"max_output_tokens" json:"max_output_tokens"`

	// Conversation configuration
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`
	MaxToolTurns       int   `mapstructure:"max_tool_turns" json:"max_tool_turns"`

	// Access control (capability flags surfaced to clients)
	AccessCode     string `mapstructure:"access_code" json:"access_code"` // SENSITIVE: masked in MarshalJSON; "" disables the gate
	UploadLimitMB  int    `mapstructure:"upload_limit_mb" json:"upload_limit_mb"`
	ListenAddr     string `mapstructure:"listen_addr" json:"listen_addr"`
	DevMode        bool   `mapstructure:"dev_mode" json:"dev_mode"`
	TrustProxy     bool   `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Subsystems
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway"`
	Search  SearchConfig  `mapstructure:"search" json:"search"`
	Reader  ReaderConfig  `mapstructure:"reader" json:"reader"`
	OTel    OTelConfig    `mapstructure:"otel" json:"otel"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".glim")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModel)
	viper.SetDefault("thinking_models", []string{"gemini-2.5-pro", "gemini-2.5-flash-thinking"})
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_output_tokens", 8192)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)
	viper.SetDefault("max_tool_turns", 5)

	viper.SetDefault("upload_limit_mb", 20)
	viper.SetDefault("listen_addr", "127.0.0.1:3800")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "glim")
	viper.SetDefault("postgres_password", "glim_dev_password")
	viper.SetDefault("postgres_db_name", "glim")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("gateway.request_timeout", 30*time.Second)
	viper.SetDefault("gateway.max_response_bytes", int64(10<<20))

	viper.SetDefault("search.base_url", "http://localhost:8888")
	viper.SetDefault("search.max_results", 5)

	viper.SetDefault("reader.timeout_ms", 30000)
	viper.SetDefault("reader.max_body_bytes", int64(5<<20))

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "localhost:4318")
	viper.SetDefault("otel.service_name", "glim")
	viper.SetDefault("otel.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets only arrive via the environment, never the config file in production.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "GEMINI_API_KEY")
	mustBind("access_code", "GLIM_ACCESS_CODE")
	mustBind("model_name", "GLIM_MODEL_NAME")
	mustBind("listen_addr", "GLIM_LISTEN_ADDR")
	mustBind("trust_proxy", "GLIM_TRUST_PROXY")
	mustBind("postgres_password", "GLIM_POSTGRES_PASSWORD")
	mustBind("search.base_url", "GLIM_SEARCH_BASE_URL")
	mustBind("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// ConnString returns the PostgreSQL connection URL.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// PasswordProtected reports whether the access-code gate is active.
func (c *Config) PasswordProtected() bool {
	return c.AccessCode != ""
}

// ModelPermitted reports whether the given model may be used by clients.
// An empty permitted list means every model is allowed.
func (c *Config) ModelPermitted(model string) bool {
	if len(c.PermittedModels) == 0 {
		return true
	}
	return slices.Contains(c.PermittedModels, model)
}

// IsThinkingModel reports whether the model's stream carries a thought channel.
func (c *Config) IsThinkingModel(model string) bool {
	return slices.Contains(c.ThinkingModels, model)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked: APIKey, AccessCode, PostgresPassword.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.AccessCode = maskSecret(a.AccessCode)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
