package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/codechat")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
	require.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	require.InDelta(t, 0.7, cfg.OpenAITemperature, 1e-6)
	require.Equal(t, 2048, cfg.OpenAIMaxOutputTokens)
	require.Equal(t, 60*time.Second, cfg.OpenAIRequestTimeout)
	require.Equal(t, 45*time.Second, cfg.StreamIdleTimeout)
	require.Equal(t, 8000, cfg.MaxMessageLength)
	require.Equal(t, 40, cfg.MaxHistoryMessages)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", " DynamoDB ")
	t.Setenv("STATE_TABLE", "chat-state")
	t.Setenv("OPENAI_API_KEY_PARAM", "/codechat/openai")
	t.Setenv("STREAM_IDLE_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, 5*time.Second, cfg.StreamIdleTimeout)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("MAX_MESSAGE_LENGTH", "lots")
	_, err := Load()
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogLevel:              "INFO",
			StoreBackend:          BackendMemory,
			OpenAIAPIKey:          "sk-test",
			OpenAITemperature:     0.7,
			OpenAIMaxOutputTokens: 100,
			OpenAIRequestTimeout:  time.Second,
			StreamIdleTimeout:     time.Second,
			MaxMessageLength:      10,
			MaxHistoryMessages:    2,
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"dynamodb without table", func(c *Config) { c.StoreBackend = BackendDynamoDB }, "STATE_TABLE"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "unknown STORE_BACKEND"},
		{"no credential", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"temperature", func(c *Config) { c.OpenAITemperature = 3 }, "OPENAI_TEMPERATURE"},
		{"output tokens", func(c *Config) { c.OpenAIMaxOutputTokens = 0 }, "OPENAI_MAX_OUTPUT_TOKENS"},
		{"idle timeout", func(c *Config) { c.StreamIdleTimeout = 0 }, "STREAM_IDLE_TIMEOUT"},
		{"history", func(c *Config) { c.MaxHistoryMessages = -1 }, "MAX_HISTORY_MESSAGES"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			require.ErrorContains(t, c.Validate(), tc.want)
		})
	}
}

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv("STATE_TABLE", "chat-state")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg, err := LoadWithDefaults(map[string]string{
		"STORE_BACKEND": BackendDynamoDB,
		"OPENAI_MODEL":  "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, "gpt-4o", cfg.OpenAIModel)
}
