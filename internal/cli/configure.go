package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/freeagent/internal/config"
	"github.com/harun/freeagent/pkg/provider"
)

var (
	configureToken       string
	configureUsers       string
	configureProviders   []string
	configureDefault     string
	configureSystemTools string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write or update the configuration file",
	Long: `Write or update the FreeAgent configuration file.
Values given as flags replace the stored ones; everything else is kept.

  freeagent configure --telegram-token 123:abc \
    --provider gemini=KEY1,KEY2 --provider groq=KEY3 --default gemini`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "telegram-token", "", "Telegram bot token")
	configureCmd.Flags().StringVar(&configureUsers, "allowed-users", "", "comma separated Telegram user IDs allowed to use the bot")
	configureCmd.Flags().StringArrayVar(&configureProviders, "provider", nil, "provider keys as name=key1,key2 (repeatable, in priority order)")
	configureCmd.Flags().StringVar(&configureDefault, "default", "", "default provider")
	configureCmd.Flags().StringVar(&configureSystemTools, "system-tools", "", "enable shell and file tools (true/false)")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := applyConfigureFlags(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintf(out, "Providers: %d, API keys: %d\n", len(cfg.Providers), cfg.KeyCount())
	fmt.Fprintln(out, "You can now start FreeAgent with: freeagent start")
	return nil
}

func applyConfigureFlags(cfg *config.Config) error {
	if configureToken != "" {
		cfg.Telegram.BotToken = strings.TrimSpace(configureToken)
	}

	if configureUsers != "" {
		var users []int64
		for _, raw := range config.SplitList(configureUsers) {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q: %w", raw, err)
			}
			users = append(users, id)
		}
		cfg.Telegram.AllowedUsers = users
	}

	for _, spec := range configureProviders {
		pc, err := parseProviderFlag(spec)
		if err != nil {
			return err
		}
		cfg.Providers = upsertProvider(cfg.Providers, pc)
	}

	if configureDefault != "" {
		cfg.Pool.Default = strings.ToLower(strings.TrimSpace(configureDefault))
	}

	if configureSystemTools != "" {
		enabled, err := strconv.ParseBool(configureSystemTools)
		if err != nil {
			return fmt.Errorf("invalid --system-tools value: %w", err)
		}
		cfg.Tools.System.Enabled = enabled
	}
	return nil
}

// parseProviderFlag parses "name=key1,key2".
func parseProviderFlag(spec string) (config.ProviderConfig, error) {
	name, keys, ok := strings.Cut(spec, "=")
	name = strings.ToLower(strings.TrimSpace(name))
	if !ok || name == "" {
		return config.ProviderConfig{}, fmt.Errorf("invalid --provider %q: want name=key1,key2", spec)
	}
	if !provider.IsKnown(name) {
		return config.ProviderConfig{}, fmt.Errorf("unknown provider %q (must be one of: %s)", name, strings.Join(provider.KnownNames(), ", "))
	}
	list := config.SplitList(keys)
	if len(list) == 0 {
		return config.ProviderConfig{}, fmt.Errorf("provider %s needs at least one key", name)
	}
	return config.ProviderConfig{Name: name, Keys: list}, nil
}

// upsertProvider replaces the keys of an existing entry, keeping its
// position and other settings, or appends a new one.
func upsertProvider(providers []config.ProviderConfig, pc config.ProviderConfig) []config.ProviderConfig {
	for i := range providers {
		if strings.EqualFold(providers[i].Name, pc.Name) {
			providers[i].Keys = pc.Keys
			return providers
		}
	}
	return append(providers, pc)
}
