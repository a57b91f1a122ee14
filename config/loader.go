package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from defaults, an optional YAML file, and
// environment variables, in that precedence order — mirrors the teacher's
// NewLoader().WithConfigPath(...).WithEnvPrefix(...).Load() shape.
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader creates a Loader with no file and the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TASKER"}
}

// WithConfigPath sets the YAML file to merge over the defaults.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the final Config.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	l.applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays a small, explicit set of env vars. The teacher's loader
// walks struct tags via reflection for every field; tasker's surface is
// small enough that an explicit list is clearer and avoids reflection bugs
// around time.Duration fields.
func (l *Loader) applyEnv(cfg *Config) {
	p := l.envPrefix
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(p + "_" + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(p + "_" + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(p + "_" + key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(p + "_" + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setStr("SERVER_ADDR", &cfg.Server.Addr)
	setStr("DATABASE_DATA_DIR", &cfg.Database.DataDir)
	setBool("BROWSER_HEADLESS", &cfg.Browser.Headless)
	setInt("BROWSER_VIEWPORT_WIDTH", &cfg.Browser.ViewportWidth)
	setInt("BROWSER_VIEWPORT_HEIGHT", &cfg.Browser.ViewportHeight)
	setStr("BROWSER_CHROMIUM_PATH", &cfg.Browser.ChromiumPath)
	setStr("LLM_DEFAULT_PROVIDER", &cfg.LLM.DefaultProvider)
	setStr("LLM_DEFAULT_MODEL", &cfg.LLM.DefaultModel)
	setStr("LLM_ANTHROPIC_API_KEY", &cfg.LLM.AnthropicAPIKey)
	setStr("LLM_OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	setStr("LLM_GOOGLE_API_KEY", &cfg.LLM.GoogleAPIKey)
	setInt("LLM_MAX_RETRIES", &cfg.LLM.MaxRetries)
	setDuration("LLM_INITIAL_BACKOFF", &cfg.LLM.InitialBackoff)
	setStr("LOG_LEVEL", &cfg.Log.Level)
	setStr("LOG_FORMAT", &cfg.Log.Format)
	setBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	setStr("TELEMETRY_METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Database.DataDir) == "" {
		return fmt.Errorf("database.data_dir must not be empty")
	}
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	switch cfg.LLM.DefaultProvider {
	case "anthropic", "openai", "gemini", "":
	default:
		return fmt.Errorf("unknown llm.default_provider %q", cfg.LLM.DefaultProvider)
	}
	return nil
}
