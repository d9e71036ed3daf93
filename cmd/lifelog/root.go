package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"lifelog/internal/config"
)

var (
	configPath string
	dbPath     string
	apiPort    string
	legacyPath string
)

var rootCmd = &cobra.Command{
	Use:   "lifelog",
	Short: "Personal posts and habits with change tracking",
	Long: `lifelog stores posts, habits and settings in SQLite, keeps habit streaks
up to date and broadcasts data changes to connected clients.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "TOML config file (overrides "+config.ConfigFileEnv+")")
	flags.StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	flags.StringVar(&legacyPath, "legacy", "", "legacy data file (overrides LEGACY_DATA_PATH)")

	serveCmd.Flags().StringVar(&apiPort, "port", "", "HTTP port (overrides API_PORT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig reads the configuration, applies command-line overrides and
// installs the process logger.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if apiPort != "" {
		cfg.APIPort = apiPort
	}
	if legacyPath != "" {
		cfg.LegacyDataPath = legacyPath
	}

	slog.SetDefault(cfg.NewLogger())
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)
	return cfg, nil
}
