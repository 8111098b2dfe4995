package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "lead-entry",
	Short:        "Automated lead entry into partner portals",
	Long:         "Admits confirmed leads into an automation queue, submits them to each tenant's portal with a headless browser, and records call outcomes from the voice provider.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(configPath, logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// setup loads configuration into cfg and installs the global logger.
func setup(path, level string) error {
	loaded, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level != "" {
		loaded.Log.Level = level
	}
	if err := config.InitLogger(loaded.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg = loaded
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
