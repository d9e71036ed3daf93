package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML
// config file.
const ConfigFileEnv = "LIFELOG_CONFIG"

// Config holds all configuration for the application.
type Config struct {
	DBPath                string
	LegacyDataPath        string
	APIPort               string
	LogLevel              slog.Level
	LogFormat             string
	PollInterval          time.Duration
	ObserverStrategy      string
	WatchDB               bool
	StreakMaxLookbackDays int
}

// fileConfig is the shape of the optional TOML file. Its values replace the
// built-in defaults; environment variables still take precedence.
type fileConfig struct {
	DBPath                string `toml:"db_path"`
	LegacyDataPath        string `toml:"legacy_data_path"`
	APIPort               string `toml:"api_port"`
	LogLevel              string `toml:"log_level"`
	LogFormat             string `toml:"log_format"`
	PollIntervalMS        int    `toml:"poll_interval_ms"`
	ObserverStrategy      string `toml:"observer_strategy"`
	WatchDB               *bool  `toml:"watch_db"`
	StreakMaxLookbackDays int    `toml:"streak_max_lookback_days"`
}

// Load reads configuration from environment variables and returns a Config struct.
// If LIFELOG_CONFIG names a TOML file, its values are used as defaults.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	loadDotEnv()
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit TOML file. An empty path means no file.
func LoadFile(path string) (*Config, error) {
	loadDotEnv()

	defaults := map[string]string{
		"DB_PATH":                  "./data/lifelog.db",
		"LEGACY_DATA_PATH":         "./data/legacy.json",
		"API_PORT":                 "9000",
		"LOG_LEVEL":                "info",
		"LOG_FORMAT":               "text",
		"POLL_INTERVAL_MS":         "30000",
		"OBSERVER_STRATEGY":        "fingerprint",
		"WATCH_DB":                 "false",
		"STREAK_MAX_LOOKBACK_DAYS": "366",
	}
	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(defaults)
	}

	cfg := &Config{
		DBPath:         getEnv("DB_PATH", defaults["DB_PATH"]),
		LegacyDataPath: getEnv("LEGACY_DATA_PATH", defaults["LEGACY_DATA_PATH"]),
		APIPort:        getEnv("API_PORT", defaults["API_PORT"]),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", defaults["LOG_FORMAT"])),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", defaults["LOG_LEVEL"]))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if _, err := strconv.Atoi(cfg.APIPort); err != nil {
		return nil, fmt.Errorf("API_PORT must be a valid integer: %w", err)
	}

	pollMS, err := strconv.Atoi(getEnv("POLL_INTERVAL_MS", defaults["POLL_INTERVAL_MS"]))
	if err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be a valid integer: %w", err)
	}
	if pollMS <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be greater than 0")
	}
	cfg.PollInterval = time.Duration(pollMS) * time.Millisecond

	cfg.ObserverStrategy = strings.ToLower(getEnv("OBSERVER_STRATEGY", defaults["OBSERVER_STRATEGY"]))
	if cfg.ObserverStrategy != "fingerprint" && cfg.ObserverStrategy != "version" {
		return nil, fmt.Errorf("OBSERVER_STRATEGY must be fingerprint or version, got %q", cfg.ObserverStrategy)
	}

	cfg.WatchDB, err = strconv.ParseBool(getEnv("WATCH_DB", defaults["WATCH_DB"]))
	if err != nil {
		return nil, fmt.Errorf("WATCH_DB must be a boolean: %w", err)
	}

	cfg.StreakMaxLookbackDays, err = strconv.Atoi(getEnv("STREAK_MAX_LOOKBACK_DAYS", defaults["STREAK_MAX_LOOKBACK_DAYS"]))
	if err != nil {
		return nil, fmt.Errorf("STREAK_MAX_LOOKBACK_DAYS must be a valid integer: %w", err)
	}
	if cfg.StreakMaxLookbackDays <= 0 {
		return nil, fmt.Errorf("STREAK_MAX_LOOKBACK_DAYS must be greater than 0")
	}

	// Create ./data directory if it doesn't exist
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// loadDotEnv loads .env from the current directory, then from the first
// parent directory that has one.
func loadDotEnv() {
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ { // Limit search depth
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return // Reached filesystem root
		}
		dir = parent
	}
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) apply(defaults map[string]string) {
	set := func(key, value string) {
		if value != "" {
			defaults[key] = value
		}
	}
	set("DB_PATH", fc.DBPath)
	set("LEGACY_DATA_PATH", fc.LegacyDataPath)
	set("API_PORT", fc.APIPort)
	set("LOG_LEVEL", fc.LogLevel)
	set("LOG_FORMAT", fc.LogFormat)
	set("OBSERVER_STRATEGY", fc.ObserverStrategy)
	if fc.PollIntervalMS != 0 {
		defaults["POLL_INTERVAL_MS"] = strconv.Itoa(fc.PollIntervalMS)
	}
	if fc.WatchDB != nil {
		defaults["WATCH_DB"] = strconv.FormatBool(*fc.WatchDB)
	}
	if fc.StreakMaxLookbackDays != 0 {
		defaults["STREAK_MAX_LOOKBACK_DAYS"] = strconv.Itoa(fc.StreakMaxLookbackDays)
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
