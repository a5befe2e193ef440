package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/plexus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Plexus gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for a single provider's details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an example configuration",
	Long:  `Generate an example YAML configuration file covering every supported provider type.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Plexus Configuration Setup")
	color.Yellow("Follow the prompts to configure your first provider. Add more later with 'plexus config generate' or by editing the YAML file directly.")

	reader := bufio.NewReader(os.Stdin)

	providerName := prompt(reader, "Provider Name (e.g. openrouter, openai, anthropic, gemini, nvidia)")
	providerType := prompt(reader, "Provider Type (openai, anthropic, gemini, openrouter, nvidia)")
	apiKey := prompt(reader, "API Key")
	baseURL := prompt(reader, "API Base URL")
	model := prompt(reader, "Default Model")
	gatewayAPIKey := prompt(reader, "Gateway API Key (optional, for client authentication)")

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: gatewayAPIKey,
		Providers: []config.ProviderConfig{
			{
				Name:    providerName,
				Type:    providerType,
				BaseURL: baseURL,
				APIKey:  apiKey,
				Models:  []string{model},
				Enabled: true,
			},
		},
		Models: map[string]config.ModelAliasConfig{
			"default": {
				Targets: []config.TargetConfig{{Provider: providerName, Model: model}},
			},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", cfgMgr.Path())
	color.Cyan("Start the gateway with: plexus start")

	return nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'plexus config init' or 'plexus config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.Path())

	fmt.Println("\nProviders:")
	for _, p := range cfg.Providers {
		fmt.Printf("  - Name: %s (%s)\n", p.Name, p.Type)
		fmt.Printf("    URL: %s\n", p.BaseURL)
		fmt.Printf("    API Key: %s\n", maskString(p.APIKey))
		fmt.Printf("    Enabled: %v\n", p.Enabled)
		if len(p.Models) > 0 {
			fmt.Printf("    Models: %v\n", p.Models)
		}
		fmt.Println()
	}

	fmt.Println("Model Aliases:")
	for name, alias := range cfg.Models {
		fmt.Printf("  - %s (selector: %s)\n", name, alias.Selector)
		for _, t := range alias.Targets {
			fmt.Printf("      -> %s/%s\n", t.Provider, t.Model)
		}
	}

	if cfg.Auto.Enabled {
		fmt.Println("\nAuto-routing: enabled")
		for tier, alias := range cfg.Auto.TierModels {
			fmt.Printf("  %-10s -> %s\n", tier, alias)
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if len(cfg.Providers) == 0 {
		validationErrors = append(validationErrors, "no providers configured")
	}

	for i, p := range cfg.Providers {
		if p.Name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: name is required", i))
		}
		if p.Type == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: type is required", i))
		}
		if p.BaseURL == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: base_url is required", i))
		}
	}

	if err := cfg.Validate(); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")
		for _, e := range validationErrors {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		color.Yellow("Configuration file already exists: %s", cfgMgr.Path())
		color.Cyan("Use --force to overwrite, or 'plexus config show' to view the current config")
		return nil
	}

	cfg := exampleConfig()
	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example configuration created: %s", cfgMgr.Path())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to add your API keys")
	fmt.Println("2. Customize model aliases, auto-routing tiers, and pricing as needed")
	fmt.Println("3. Run 'plexus config validate' to check your configuration")
	fmt.Println("4. Start the gateway with 'plexus start'")

	color.Yellow("\nNote: the example includes all supported provider types:")
	fmt.Println("- OpenAI (GPT models)")
	fmt.Println("- OpenRouter (access to multiple upstream models)")
	fmt.Println("- Anthropic (Claude models)")
	fmt.Println("- Nvidia (Nemotron models)")
	fmt.Println("- Google Gemini (Gemini models)")

	return nil
}

func exampleConfig() *config.Config {
	return &config.Config{
		Host:     config.DefaultHost,
		Port:     config.DefaultPort,
		APIKey:   "",
		DataDir:  config.DefaultDataDirname,
		LogLevel: "info",
		Providers: []config.ProviderConfig{
			{Name: "openai", Type: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "sk-...", Models: []string{"gpt-4o", "gpt-4o-mini"}, Enabled: true},
			{Name: "openrouter", Type: "openrouter", BaseURL: "https://openrouter.ai/api/v1", APIKey: "sk-or-...", Enabled: true},
			{Name: "anthropic", Type: "anthropic", BaseURL: "https://api.anthropic.com", APIKey: "sk-ant-...", Models: []string{"claude-opus-4-1", "claude-sonnet-4-5"}, Enabled: true},
			{Name: "nvidia", Type: "nvidia", BaseURL: "https://integrate.api.nvidia.com/v1", APIKey: "nvapi-...", Enabled: false},
			{Name: "gemini", Type: "gemini", BaseURL: "https://generativelanguage.googleapis.com", APIKey: "AIza...", Models: []string{"gemini-2.0-flash"}, Enabled: false},
		},
		Models: map[string]config.ModelAliasConfig{
			"default": {
				Selector: "priority",
				Targets: []config.TargetConfig{
					{Provider: "anthropic", Model: "claude-sonnet-4-5"},
					{Provider: "openai", Model: "gpt-4o"},
				},
			},
			"fast": {
				Selector: "random",
				Targets: []config.TargetConfig{
					{Provider: "openai", Model: "gpt-4o-mini"},
				},
			},
		},
		Auto: config.AutoConfig{
			Enabled: true,
			TierModels: map[string]string{
				"heartbeat": "fast",
				"simple":    "fast",
				"medium":    "default",
				"complex":   "default",
				"reasoning": "default",
			},
			AgenticBoostThreshold: 0.6,
		},
		Resilience: config.ResilienceConfig{
			Retry: config.RetryConfig{
				MaxAttempts:         3,
				BaseDelayMS:         250,
				MaxDelayMS:          5000,
				Multiplier:          2.0,
				PerAttemptTimeoutMS: 30000,
			},
			Cooldown: config.CooldownConfig{
				SweepIntervalCron: config.DefaultSweepInterval,
			},
			Health: config.HealthConfig{
				ConsecutiveFailuresUnhealthy: 5,
			},
		},
		Pricing: config.PricingConfig{
			Models: map[string]config.ModelPricingConfig{
				"openai/gpt-4o": {
					Brackets: []config.BracketConfig{
						{MinInputTokens: 0, Input: 2.5, Output: 10.0},
					},
				},
				"anthropic/claude-sonnet-4-5": {
					Brackets: []config.BracketConfig{
						{MinInputTokens: 0, Input: 3.0, Output: 15.0, CachedInput: 0.3},
					},
				},
			},
		},
	}
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
