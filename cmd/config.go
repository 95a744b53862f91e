package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-gateway-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Claude gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
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
	Short: "Generate example TOML configuration",
	Long:  `Generate an example TOML configuration file with all available providers.`,
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
	color.Blue("Claude Gateway Configuration Setup")
	color.Yellow("Follow the prompts to configure your backend provider.")

	reader := bufio.NewReader(os.Stdin)

	providerName := prompt(reader, "Provider (openai, openrouter, vertexai, anthropic, nvidia): ")
	apiKey := prompt(reader, "API Key: ")
	baseURL := prompt(reader, "API Base URL (blank for default): ")
	bigModel := prompt(reader, "Big model (claude-3-opus mapping target): ")
	smallModel := prompt(reader, "Small model (claude-3-haiku mapping target): ")
	clientAPIKey := prompt(reader, "Client API key (optional, required from callers): ")

	cfg := &config.Config{
		Provider:        providerName,
		AnthropicAPIKey: clientAPIKey,
		Models: config.ModelConfig{
			BigModel:    bigModel,
			MiddleModel: bigModel,
			SmallModel:  smallModel,
		},
	}

	switch providerName {
	case "openai":
		azureAPIVersion := prompt(reader, "Azure API version (blank unless this is an Azure OpenAI deployment): ")
		cfg.OpenAI = config.OpenAIConfig{APIKey: apiKey, BaseURL: baseURL, AzureAPIVersion: azureAPIVersion}
	case "openrouter":
		cfg.OpenRouter = config.OpenRouterConfig{APIKey: apiKey, BaseURL: baseURL}
	case "vertexai":
		cfg.VertexAI = config.VertexAIConfig{AccessToken: apiKey}
	case "anthropic":
		cfg.Anthropic = config.AnthropicConfig{APIKey: apiKey, BaseURL: baseURL}
	case "nvidia":
		cfg.Nvidia = config.NvidiaConfig{APIKey: apiKey, BaseURL: baseURL}
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.Path())
	color.Cyan("You can now start the gateway with: claude-gateway start")

	return nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)

	line, _ := reader.ReadString('\n')

	return strings.TrimSpace(line)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'claude-gateway config init' or 'claude-gateway config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Provider", cfg.Provider)
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Server.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Server.Port)
	fmt.Printf("  %-15s: %s\n", "Client API Key", maskString(cfg.AnthropicAPIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.Path())

	fmt.Println("\nModel targets:")
	fmt.Printf("  %-15s: %s\n", "Big", cfg.Models.BigModel)
	fmt.Printf("  %-15s: %s\n", "Middle", cfg.Models.MiddleModel)
	fmt.Printf("  %-15s: %s\n", "Small", cfg.Models.SmallModel)

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

	if cfg.Provider == "" {
		validationErrors = append(validationErrors, "provider is required")
	}

	if !cfg.ValidateAPIKey() {
		validationErrors = append(validationErrors, fmt.Sprintf("provider %q: API key is missing or malformed", cfg.Provider))
	}

	if cfg.Models.BigModel == "" || cfg.Models.SmallModel == "" {
		validationErrors = append(validationErrors, "big_model and small_model targets are required")
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
		color.Cyan("Use --force to overwrite, or 'claude-gateway config show' to view current config")

		return nil
	}

	example := &config.Config{
		Provider: "openai",
		OpenAI: config.OpenAIConfig{
			APIKey:  "sk-your-key-here",
			BaseURL: "https://api.openai.com/v1",
		},
		OpenRouter: config.OpenRouterConfig{
			APIKey:  "",
			BaseURL: "https://openrouter.ai/api/v1",
		},
		VertexAI: config.VertexAIConfig{
			ProjectID: "",
			Location:  "us-central1",
		},
		Anthropic: config.AnthropicConfig{
			BaseURL: "https://api.anthropic.com",
		},
		Nvidia: config.NvidiaConfig{
			BaseURL: "https://integrate.api.nvidia.com/v1",
		},
		Models: config.ModelConfig{
			BigModel:    "gpt-4o",
			MiddleModel: "gpt-4o",
			SmallModel:  "gpt-4o-mini",
		},
	}

	if err := cfgMgr.Save(example); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example TOML configuration created: %s", cfgMgr.Path())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to add your API keys")
	fmt.Println("2. Set [provider] to the backend you want to use")
	fmt.Println("3. Run 'claude-gateway config validate' to check your configuration")
	fmt.Println("4. Start the gateway with 'claude-gateway start'")

	color.Yellow("\nNote: the configuration includes sections for all supported providers:")
	fmt.Println("- OpenAI / Azure OpenAI")
	fmt.Println("- OpenRouter")
	fmt.Println("- Google Vertex AI (Gemini)")
	fmt.Println("- Anthropic (passthrough)")
	fmt.Println("- Nvidia NIM")

	return nil
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
