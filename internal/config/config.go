package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	// Server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile  string `env:"LOG_FILE"`

	// Storage
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	StateTable   string `env:"STATE_TABLE"`

	// Provider. OPENAI_API_KEY_PARAM names an SSM parameter holding {"token": "..."}.
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`
	OpenAIAPIKeyParam     string        `env:"OPENAI_API_KEY_PARAM"`
	OpenAIBaseURL         string        `env:"OPENAI_BASE_URL"`
	OpenAIModel           string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITemperature     float32       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	OpenAIMaxOutputTokens int           `env:"OPENAI_MAX_OUTPUT_TOKENS" envDefault:"2048"`
	OpenAIRequestTimeout  time.Duration `env:"OPENAI_REQUEST_TIMEOUT" envDefault:"60s"`
	StreamIdleTimeout     time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"45s"`

	// Chat behaviour
	MaxMessageLength   int    `env:"MAX_MESSAGE_LENGTH" envDefault:"8000"`
	MaxHistoryMessages int    `env:"MAX_HISTORY_MESSAGES" envDefault:"40"`
	SystemPrompt       string `env:"SYSTEM_PROMPT"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	return LoadWithDefaults(nil)
}

// LoadWithDefaults is Load with per-binary defaults for variables that are
// not set in the environment.
func LoadWithDefaults(defaults map[string]string) (*Config, error) {
	environment := env.ToMap(os.Environ())
	for k, v := range defaults {
		if _, ok := environment[k]; !ok {
			environment[k] = v
		}
	}
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.OpenAIAPIKey == "" && c.OpenAIAPIKeyParam == "" {
		errs = append(errs, errors.New("one of OPENAI_API_KEY or OPENAI_API_KEY_PARAM is required"))
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		errs = append(errs, fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2], got %v", c.OpenAITemperature))
	}
	if c.OpenAIMaxOutputTokens <= 0 {
		errs = append(errs, errors.New("OPENAI_MAX_OUTPUT_TOKENS must be positive"))
	}
	if c.OpenAIRequestTimeout <= 0 || c.StreamIdleTimeout <= 0 {
		errs = append(errs, errors.New("OPENAI_REQUEST_TIMEOUT and STREAM_IDLE_TIMEOUT must be positive"))
	}
	if c.MaxMessageLength <= 0 || c.MaxHistoryMessages <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH and MAX_HISTORY_MESSAGES must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LOG_LEVEL.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}
