package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "missing.json"))
		loader.lookupEnv = envFrom(map[string]string{"FREEAGENT_DATA_DIR": tmpDir})

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Agent.MaxTurns)
		assert.Equal(t, "gemini", cfg.Pool.Default)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "freeagent.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "skills"), cfg.Agent.SkillsDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"telegram": {"bot_token": "123:abc", "allowed_users": [42, 7]},
			"providers": [
				{"name": "groq", "keys": ["gsk_a", "gsk_b"], "model": "llama-3.1-8b-instant"},
				{"name": "claude", "keys": ["sk-ant-x"]}
			],
			"pool": {"default": "groq"},
			"agent": {"max_turns": 4}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		loader := NewLoader(configPath)
		loader.lookupEnv = envFrom(nil)
		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
		assert.Equal(t, []int64{42, 7}, cfg.Telegram.AllowedUsers)
		require.Len(t, cfg.Providers, 2)
		assert.Equal(t, []string{"gsk_a", "gsk_b"}, cfg.Providers[0].Keys)
		assert.Equal(t, "llama-3.1-8b-instant", cfg.Providers[0].Model)
		assert.Equal(t, "groq", cfg.Pool.Default)
		assert.Equal(t, 4, cfg.Agent.MaxTurns)
		// untouched defaults survive
		assert.Equal(t, 2, cfg.Pool.TransientRetries)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderApplyEnv(t *testing.T) {
	t.Run("provider keys and settings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers = []ProviderConfig{{Name: "groq", Keys: []string{"old"}}}

		loader := NewLoader("")
		loader.lookupEnv = envFrom(map[string]string{
			"GROQ_API_KEYS":          " g1, g2 ,,",
			"GEMINI_API_KEYS":        "AIza1",
			"CLAUDE_API_KEYS":        "",
			"TELEGRAM_ALLOWED_USERS": "1, 2",
			"DEFAULT_PROVIDER":       "Groq",
			"MAX_AGENT_TURNS":        "3",
			"ENABLE_SYSTEM_TOOLS":    "true",
			"WORKING_DIR":            "/srv/work",
			"BASH_TIMEOUT":           "30",
		})
		require.NoError(t, loader.applyEnv(cfg))

		require.Len(t, cfg.Providers, 2)
		assert.Equal(t, "groq", cfg.Providers[0].Name)
		assert.Equal(t, []string{"g1", "g2"}, cfg.Providers[0].Keys)
		assert.Equal(t, "gemini", cfg.Providers[1].Name)
		assert.Equal(t, []int64{1, 2}, cfg.Telegram.AllowedUsers)
		assert.Equal(t, "groq", cfg.Pool.Default)
		assert.Equal(t, 3, cfg.Agent.MaxTurns)
		assert.True(t, cfg.Tools.System.Enabled)
		assert.Equal(t, "/srv/work", cfg.Tools.System.WorkingDir)
		assert.Equal(t, 30, cfg.Tools.System.BashTimeout)
	})

	t.Run("bad numbers", func(t *testing.T) {
		for _, env := range []map[string]string{
			{"MAX_AGENT_TURNS": "ten"},
			{"TELEGRAM_ALLOWED_USERS": "1,bob"},
			{"ENABLE_SYSTEM_TOOLS": "maybe"},
		} {
			loader := NewLoader("")
			loader.lookupEnv = envFrom(env)
			assert.Error(t, loader.applyEnv(DefaultConfig()), "%v", env)
		}
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "freeagent.json")
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{{Name: "mistral", Keys: []string{"m-key"}}}

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	loader.lookupEnv = envFrom(nil)
	loaded, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, "mistral", loaded.Providers[0].Name)
	assert.Equal(t, []string{"m-key"}, loaded.Providers[0].Keys)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,b, "))
	assert.Nil(t, SplitList(""))
}
