// Package cmd provides the CLI commands for the iMCP host process.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imcphost/imcp/internal/appdir"
	"github.com/imcphost/imcp/internal/config"
	"github.com/imcphost/imcp/internal/logging"
)

var (
	logLevel      string
	logJSON       bool
	logComponents string
	configPath    string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "imcp-server",
	Short: "iMCP host: a localhost MCP server exposing host-native tools",
	Long: `imcp-server runs the iMCP host process: a localhost MCP server that
exposes host-native service tools (calendar, reminders, and friends) to MCP
clients over a token-authenticated TCP connection. Clients that only speak
stdio connect through the separate imcp-bridge binary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if _, err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create iMCP directory: %w", err)
		}

		path := configPath
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			path = p
		}
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		cfg = loaded

		effectiveLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLevel = logLevel
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}

		var fileLog *logging.FileLogConfig
		if cfg.Log.FilePath != "" {
			fileLog = &logging.FileLogConfig{
				Path:       cfg.Log.FilePath,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			}
		}

		if err := logging.Initialize(logging.Config{
			Level:      effectiveLevel,
			JSON:       cfg.Log.JSON || logJSON,
			Components: components,
			FileLog:    fileLog,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (defaults to the iMCP directory's config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated component filter (e.g. 'listener,dispatcher'). Empty means all.")
}
