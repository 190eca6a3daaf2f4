// Command vigil runs the health monitor daemon and talks to a running one.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/config"
)

var (
	configPath string
	socketPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Continuous multi-dimensional health monitor",
	Long: `vigil samples weighted health dimensions, aggregates them into a composite
score, raises challenges for degraded dimensions and dispatches recovery actions.

Run the daemon with 'vigil run' and query it with 'vigil status'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", filepath.Join(".vigil", "config.yaml"), "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Control socket path (default from configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration for commands. A missing file gives
// the defaults.
func loadConfig() (*config.Configuration, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// resolveSocket returns the --socket flag or the configured socket path
func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	cfg, err := loadConfig()
	if err != nil {
		return config.Default().Control.SocketPath
	}
	return cfg.Control.SocketPath
}
