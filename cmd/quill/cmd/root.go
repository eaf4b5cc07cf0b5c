package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quillpolicy/quill/internal/core/config"
)

var (
	configFile  string
	dbURL       string
	logLevel    string
	logFormat   string
	latticePath string
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill embedded authorization engine",
	Long:  `Quill answers authorization queries against logic-language policies, dispatching rules most-specific first.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "decision audit database URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&latticePath, "lattice", "", "class lattice YAML file")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadEngineConfig merges flag overrides over the config file and defaults.
func loadEngineConfig() (*config.EngineConfig, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if latticePath != "" {
		cfg.LatticePath = latticePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
