package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123456:ABC-def_ghi"
	cfg.Providers = []ProviderConfig{
		{Name: "gemini", Keys: []string{"AIzaSyA", "AIzaSyB"}},
		{Name: "groq", Keys: []string{"gsk_1"}},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.Agent.MaxTurns)
	assert.Equal(t, 1500, cfg.Telegram.ProgressInterval)
	assert.False(t, cfg.Tools.System.Enabled)
	assert.Equal(t, 8000, cfg.Tools.Web.FetchLimit)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no keys", func(c *Config) { c.Providers = nil }, "no provider API keys"},
		{"unknown provider", func(c *Config) { c.Providers[1].Name = "openai" }, "unknown provider"},
		{"duplicate provider", func(c *Config) { c.Providers[1].Name = "gemini" }, "configured twice"},
		{"bad default", func(c *Config) { c.Pool.Default = "bard" }, "pool default"},
		{"bad token", func(c *Config) { c.Telegram.BotToken = "nope" }, "Telegram bot token"},
		{"turns", func(c *Config) { c.Agent.MaxTurns = 0 }, "max_turns"},
		{"schedule", func(c *Config) { c.Retention.Schedule = "every day" }, "retention schedule"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"whitespace key", func(c *Config) { c.Providers[0].Keys = []string{"a b"} }, "whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Keys = []string{"AIzaSyVERYSECRETKEY1234"}

	out := cfg.String()
	assert.NotContains(t, out, "VERYSECRET")
	assert.NotContains(t, out, "ABC-def_ghi")
	assert.Contains(t, out, "AIza...1234")
	// the original is untouched
	assert.Equal(t, "AIzaSyVERYSECRETKEY1234", cfg.Providers[0].Keys[0])
}

func TestConfigProvider(t *testing.T) {
	cfg := validConfig()
	p, ok := cfg.Provider("GROQ")
	require.True(t, ok)
	assert.Equal(t, []string{"gsk_1"}, p.Keys)

	_, ok = cfg.Provider("claude")
	assert.False(t, ok)
	assert.Equal(t, 3, cfg.KeyCount())
}
