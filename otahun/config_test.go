package otahun

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	config := DefaultConfig()
	config.Discord.Token = "discord-token"
	config.Discord.ApplicationID = testBotUserID
	config.OpenAI.Token = "openai-token"
	config.OpenAI.Model = "shapesinc/otahun"
	return config
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validTestConfig().Validate())
}

func TestConfigValidate_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing discord token",
			mutate: func(c *Config) { c.Discord.Token = "" },
		},
		{
			name:   "missing application id",
			mutate: func(c *Config) { c.Discord.ApplicationID = "" },
		},
		{
			name:   "missing openai token",
			mutate: func(c *Config) { c.OpenAI.Token = "" },
		},
		{
			name:   "bad base url",
			mutate: func(c *Config) { c.OpenAI.BaseURL = "not a url" },
		},
		{
			name:   "temperature out of range",
			mutate: func(c *Config) { c.OpenAI.Temperature = 2.5 },
		},
		{
			name:   "bad database type",
			mutate: func(c *Config) { c.DatabaseType = "mysql" },
		},
		{
			name:   "bad context scope",
			mutate: func(c *Config) { c.Chat.ContextScope = "guild" },
		},
		{
			name:   "zero context turns",
			mutate: func(c *Config) { c.Chat.MaxContextTurns = 0 },
		},
		{
			name:   "sub-second rate limit window",
			mutate: func(c *Config) { c.Chat.RateLimitWindow = time.Millisecond },
		},
		{
			name:   "bad listen network",
			mutate: func(c *Config) { c.API.ListenNetwork = "udp" },
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				config := validTestConfig()
				tc.mutate(config)
				assert.Error(t, config.Validate())
			},
		)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, config.DatabaseType)
	assert.Equal(t, DefaultOpenAIBaseURL, config.OpenAI.BaseURL)
	assert.Equal(t, ContextScopeUser, config.Chat.ContextScope)
	assert.Equal(t, DefaultMaxContextTurns, config.Chat.MaxContextTurns)
	assert.Equal(t, DefaultRateLimitRequests, config.Chat.RateLimitRequests)
	assert.Equal(t, DefaultKeywordTriggers(), config.Chat.KeywordTriggers)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.NotNil(t, config.Discord.LogLevel)
	assert.NotNil(t, config.OpenAI.LogLevel)
	assert.NotNil(t, config.API.LogLevel)
}

// Tokens must never appear in the startup config log line.
func TestConfigLogValueRedactsSecrets(t *testing.T) {
	config := validTestConfig()

	logged := config.LogValue().String()
	assert.NotContains(t, logged, "discord-token")
	assert.NotContains(t, logged, "openai-token")
	assert.True(
		t,
		strings.Contains(logged, "[redacted]"),
		"redaction placeholder missing: %s", logged,
	)
}
