package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harun/freeagent/pkg/provider"
	"github.com/spf13/viper"
)

const (
	defaultDirName  = ".freeagent"
	defaultFileName = "freeagent.json"
	envPrefix       = "FREEAGENT"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		lookupEnv:  os.LookupEnv,
	}
}

// Load loads the configuration from file, then applies environment
// overrides. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "freeagent.log")
	}
	if cfg.Agent.SkillsDir != "" && !filepath.IsAbs(cfg.Agent.SkillsDir) {
		cfg.Agent.SkillsDir = filepath.Join(cfg.DataDir, cfg.Agent.SkillsDir)
	}

	return cfg, nil
}

// providerEnv lists the comma separated key variables, in the priority
// order providers are appended when the file does not mention them.
var providerEnv = []struct {
	name string
	env  string
}{
	{provider.Claude, "CLAUDE_API_KEYS"},
	{provider.Gemini, "GEMINI_API_KEYS"},
	{provider.Groq, "GROQ_API_KEYS"},
	{provider.Mistral, "MISTRAL_API_KEYS"},
}

// applyEnv applies the conventional environment variables on top of cfg.
func (l *Loader) applyEnv(cfg *Config) error {
	for _, pe := range providerEnv {
		raw, ok := l.lookupEnv(pe.env)
		if !ok {
			continue
		}
		keys := SplitList(raw)
		found := false
		for i := range cfg.Providers {
			if strings.EqualFold(cfg.Providers[i].Name, pe.name) {
				cfg.Providers[i].Keys = keys
				found = true
			}
		}
		if !found && len(keys) > 0 {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Name: pe.name, Keys: keys})
		}
	}

	if v, ok := l.lookupEnv("TELEGRAM_BOT_TOKEN"); ok {
		cfg.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv("TELEGRAM_ALLOWED_USERS"); ok {
		users, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_ALLOWED_USERS: %w", err)
		}
		cfg.Telegram.AllowedUsers = users
	}
	if v, ok := l.lookupEnv("DEFAULT_PROVIDER"); ok && strings.TrimSpace(v) != "" {
		cfg.Pool.Default = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := l.lookupEnv("MAX_AGENT_TURNS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid MAX_AGENT_TURNS: %w", err)
		}
		cfg.Agent.MaxTurns = n
	}
	if v, ok := l.lookupEnv("ENABLE_SYSTEM_TOOLS"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid ENABLE_SYSTEM_TOOLS: %w", err)
		}
		cfg.Tools.System.Enabled = enabled
	}
	if v, ok := l.lookupEnv("WORKING_DIR"); ok && strings.TrimSpace(v) != "" {
		cfg.Tools.System.WorkingDir = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv("BASH_TIMEOUT"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid BASH_TIMEOUT: %w", err)
		}
		cfg.Tools.System.BashTimeout = n
	}
	if v, ok := l.lookupEnv(envPrefix + "_DATA_DIR"); ok && strings.TrimSpace(v) != "" {
		cfg.DataDir = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv(envPrefix + "_LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}

	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range SplitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Save writes the configuration to the config file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("telegram", cfg.Telegram)
	v.Set("providers", cfg.Providers)
	v.Set("pool", cfg.Pool)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("tracing", cfg.Tracing)
	v.Set("retention", cfg.Retention)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
