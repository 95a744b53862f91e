package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/claude-gateway-go/internal/config"
)

const (
	AppName = "claude-gateway"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger = slog.New(handler)

	var err error

	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)

	configPath := config.ResolvePath()
	if !filepath.IsAbs(configPath) && os.Getenv("CONFIG_PATH") == "" {
		configPath = filepath.Join(baseDir, configPath)
	}

	cfgMgr = config.NewManager(configPath)
}

var rootCmd = &cobra.Command{
	Use:     "claude-gateway",
	Short:   "Claude Gateway - Claude Messages API to OpenAI-compatible backend translator",
	Long:    `A wire-compatible gateway that translates Anthropic Claude Messages API requests to an OpenAI-style Chat Completions backend.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("log-file", "l", false, "enable file logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose, logFile bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if logFile {
		color.Yellow("File logging not yet implemented, using stdout")
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	logger = slog.New(handler)
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			color.Yellow("No configuration file found; ANTHROPIC_API_KEY is set, so the setup hint is skipped")
			return nil
		}

		color.Yellow("Configuration not found.")

		return promptForConfig()
	}

	return nil
}

func promptForConfig() error {
	fmt.Println("Please run 'claude-gateway config init' to set up your configuration")
	return errors.New("configuration required")
}
