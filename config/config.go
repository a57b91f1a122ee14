// Package config provides tasker's layered configuration: defaults, then a
// YAML file, then environment variable overrides — the same precedence
// order the teacher framework uses for its own config package.
package config

import "time"

// Config is the full sidecar configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Browser   BrowserConfig   `yaml:"browser"`
	LLM       LLMConfig       `yaml:"llm"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the embedded relational Store.
type DatabaseConfig struct {
	DataDir         string        `yaml:"data_dir"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BrowserConfig configures default Chromium launch parameters.
type BrowserConfig struct {
	Headless               bool          `yaml:"headless"`
	ViewportWidth          int           `yaml:"viewport_width"`
	ViewportHeight         int           `yaml:"viewport_height"`
	DefaultActionTimeout   time.Duration `yaml:"default_action_timeout"`
	ImplicitWaitTimeout    time.Duration `yaml:"implicit_wait_timeout"`
	ChromiumPath           string        `yaml:"chromium_path"`
}

// LLMConfig configures default provider/model and retry behaviour.
type LLMConfig struct {
	DefaultProvider   string        `yaml:"default_provider"`
	DefaultModel      string        `yaml:"default_model"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	HistoryTokenCap   int           `yaml:"history_token_cap"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	GoogleAPIKey      string        `yaml:"google_api_key"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

// TelemetryConfig configures the Prometheus exposition endpoint.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the baseline configuration, matching spec.md §6's
// documented defaults (sidecar on localhost:8765, tasker.db under data_dir).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8765",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DataDir:         "./data",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Browser: BrowserConfig{
			Headless:             true,
			ViewportWidth:        1280,
			ViewportHeight:       800,
			DefaultActionTimeout: 30 * time.Second,
			ImplicitWaitTimeout:  2 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-3-7-sonnet-latest",
			MaxRetries:      3,
			InitialBackoff:  1 * time.Second,
			MaxBackoff:      30 * time.Second,
			HistoryTokenCap: 24000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			MetricsAddr: ":9765",
		},
	}
}
