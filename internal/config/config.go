package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main freeagent configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Providers in priority order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Provider pool tuning
	Pool PoolConfig `json:"pool" mapstructure:"pool"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Retention of history and the query log
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
	// AllowedUsers restricts who may talk to the bot. Empty allows everyone.
	AllowedUsers     []int64 `json:"allowed_users" mapstructure:"allowed_users"`
	ProgressInterval int     `json:"progress_interval_ms" mapstructure:"progress_interval_ms"`
	TypingInterval   int     `json:"typing_interval_ms" mapstructure:"typing_interval_ms"`
}

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	Name      string   `json:"name" mapstructure:"name"`
	Keys      []string `json:"keys" mapstructure:"keys"`
	Model     string   `json:"model,omitempty" mapstructure:"model"`
	BaseURL   string   `json:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// PoolConfig holds the provider pool settings
type PoolConfig struct {
	Default            string `json:"default" mapstructure:"default"`
	CallTimeout        int    `json:"call_timeout" mapstructure:"call_timeout"` // seconds
	TransientRetries   int    `json:"transient_retries" mapstructure:"transient_retries"`
	TransientBackoffMs int    `json:"transient_backoff_ms" mapstructure:"transient_backoff_ms"`
}

// AgentConfig holds agent loop settings
type AgentConfig struct {
	MaxTurns     int    `json:"max_turns" mapstructure:"max_turns"`
	ToolTimeout  int    `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
	HistoryLimit int    `json:"history_limit" mapstructure:"history_limit"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	SkillsDir    string `json:"skills_dir" mapstructure:"skills_dir"`
	Timezone     string `json:"timezone" mapstructure:"timezone"`
	// MaxPending caps queued requests per chat.
	MaxPending int `json:"max_pending" mapstructure:"max_pending"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	MaxOutput int               `json:"max_output" mapstructure:"max_output"` // bytes
	Web       WebToolsConfig    `json:"web" mapstructure:"web"`
	System    SystemToolsConfig `json:"system" mapstructure:"system"`
}

// WebToolsConfig configures web_search and web_fetch
type WebToolsConfig struct {
	SearchURL  string `json:"search_url" mapstructure:"search_url"`
	UserAgent  string `json:"user_agent" mapstructure:"user_agent"`
	FetchLimit int    `json:"fetch_limit" mapstructure:"fetch_limit"` // characters
}

// SystemToolsConfig gates the shell and file system tools
type SystemToolsConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	WorkingDir  string `json:"working_dir" mapstructure:"working_dir"`
	BashTimeout int    `json:"bash_timeout" mapstructure:"bash_timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// RetentionConfig controls the periodic cleanup job
type RetentionConfig struct {
	Schedule     string `json:"schedule" mapstructure:"schedule"` // cron spec
	HistoryDays  int    `json:"history_days" mapstructure:"history_days"`
	QueryLogDays int    `json:"query_log_days" mapstructure:"query_log_days"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			ProgressInterval: 1500,
			TypingInterval:   4000,
		},
		Pool: PoolConfig{
			Default:            "gemini",
			CallTimeout:        90,
			TransientRetries:   2,
			TransientBackoffMs: 500,
		},
		Agent: AgentConfig{
			MaxTurns:     10,
			ToolTimeout:  60,
			HistoryLimit: 20,
			SkillsDir:    "skills",
			MaxPending:   5,
		},
		Tools: ToolsConfig{
			MaxOutput: 10 * 1024,
			Web: WebToolsConfig{
				SearchURL:  "https://html.duckduckgo.com/html/",
				UserAgent:  "Mozilla/5.0 (compatible; freeagent/1.0)",
				FetchLimit: 8000,
			},
			System: SystemToolsConfig{
				Enabled:     false,
				WorkingDir:  ".",
				BashTimeout: 120,
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1,
		},
		Retention: RetentionConfig{
			Schedule:     "@daily",
			HistoryDays:  30,
			QueryLogDays: 90,
		},
	}
}

// String returns a JSON representation of the config with keys masked
func (c *Config) String() string {
	masked := *c
	masked.Telegram.BotToken = mask(c.Telegram.BotToken)
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		keys := make([]string, len(p.Keys))
		for j, k := range p.Keys {
			keys[j] = mask(k)
		}
		p.Keys = keys
		masked.Providers[i] = p
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Provider returns the configuration of a provider by name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// KeyCount returns the number of API keys over all providers.
func (c *Config) KeyCount() int {
	n := 0
	for _, p := range c.Providers {
		n += len(p.Keys)
	}
	return n
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
