package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/freeagent/pkg/provider"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateProviderName validates a provider name
func (v *Validator) ValidateProviderName(name string) error {
	if !provider.IsKnown(name) {
		return fmt.Errorf("unknown provider: %s (must be one of: %s)", name, strings.Join(provider.KnownNames(), ", "))
	}
	return nil
}

// ValidateAPIKey rejects empty keys and keys containing whitespace.
func (v *Validator) ValidateAPIKey(key string, providerName string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%s API key cannot be empty", providerName)
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("%s API key contains whitespace", providerName)
	}
	return nil
}

// ValidateMaxTurns validates the agent turn limit
func (v *Validator) ValidateMaxTurns(turns int) error {
	if turns < 1 || turns > 50 {
		return fmt.Errorf("agent max_turns must be between 1 and 50, got %d", turns)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron schedule
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
		errors = append(errors, err)
	}
	if cfg.Telegram.ProgressInterval < 0 {
		errors = append(errors, fmt.Errorf("telegram progress_interval_ms must be >= 0"))
	}

	if cfg.KeyCount() == 0 {
		errors = append(errors, fmt.Errorf("no provider API keys configured: at least one key is required"))
	}
	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		name := strings.ToLower(p.Name)
		if err := v.ValidateProviderName(name); err != nil {
			errors = append(errors, fmt.Errorf("provider %d: %w", i, err))
			continue
		}
		if seen[name] {
			errors = append(errors, fmt.Errorf("provider %s configured twice", name))
		}
		seen[name] = true
		for _, key := range p.Keys {
			if err := v.ValidateAPIKey(key, name); err != nil {
				errors = append(errors, err)
			}
		}
		if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("provider %s: %w", name, err))
		}
	}
	if cfg.Pool.Default != "" {
		if err := v.ValidateProviderName(strings.ToLower(cfg.Pool.Default)); err != nil {
			errors = append(errors, fmt.Errorf("pool default: %w", err))
		}
	}
	if cfg.Pool.TransientRetries < 0 {
		errors = append(errors, fmt.Errorf("pool transient_retries must be >= 0"))
	}
	if cfg.Pool.TransientBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("pool transient_backoff_ms must be >= 0"))
	}

	if err := v.ValidateMaxTurns(cfg.Agent.MaxTurns); err != nil {
		errors = append(errors, err)
	}
	if cfg.Agent.HistoryLimit < 0 {
		errors = append(errors, fmt.Errorf("agent history_limit must be >= 0"))
	}
	if cfg.Agent.MaxPending < 0 {
		errors = append(errors, fmt.Errorf("agent max_pending must be >= 0"))
	}

	if cfg.Tools.System.Enabled && strings.TrimSpace(cfg.Tools.System.WorkingDir) == "" {
		errors = append(errors, fmt.Errorf("tools.system.working_dir is required when system tools are enabled"))
	}

	if err := v.ValidateSchedule(cfg.Retention.Schedule); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
