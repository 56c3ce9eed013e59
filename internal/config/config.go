package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Config holds process configuration
// Runtime policy (rules, retention, schedule) lives in the database instead.
type Config struct {
	// Server
	ServerPort  string
	CORSOrigins []string

	// Tracker
	RequestTimeout time.Duration // Per request bound for tracker calls (default: 30s)
	RequestDelay   time.Duration // Minimum spacing between tracker requests (default: 2s)
	UserAgent      string

	// Downloaders
	DownloaderTimeout time.Duration // Per request bound for torrent client calls (default: 15s)

	// Stats
	TrendRetention time.Duration // How long trend points are kept (default: 30 days)

	// Paths
	ConfigDir    string
	DatabaseFile string // $CONFIG_DIR/nicept-helper.db

	// Logging and tracing
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	viper.SetDefault("REQUEST_DELAY_SECONDS", 2)
	viper.SetDefault("DOWNLOADER_TIMEOUT_SECONDS", 15)
	viper.SetDefault("TREND_RETENTION_DAYS", 30)
	viper.SetDefault("USER_AGENT", defaultUserAgent)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("TRACING_ENABLED", false)

	configDir, err := resolveConfigDir(viper.GetString("CONFIG_DIR"))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		ServerPort:  viper.GetString("SERVER_PORT"),
		CORSOrigins: splitCSV(viper.GetString("CORS_ORIGINS")),

		RequestTimeout: time.Duration(viper.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
		RequestDelay:   time.Duration(viper.GetFloat64("REQUEST_DELAY_SECONDS") * float64(time.Second)),
		UserAgent:      viper.GetString("USER_AGENT"),

		DownloaderTimeout: time.Duration(viper.GetInt("DOWNLOADER_TIMEOUT_SECONDS")) * time.Second,

		TrendRetention: time.Duration(viper.GetInt("TREND_RETENTION_DAYS")) * 24 * time.Hour,

		ConfigDir:    configDir,
		DatabaseFile: filepath.Join(configDir, "nicept-helper.db"),

		LogLevel:       viper.GetString("LOG_LEVEL"),
		LogFormat:      viper.GetString("LOG_FORMAT"),
		TracingEnabled: viper.GetBool("TRACING_ENABLED"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.DownloaderTimeout <= 0 {
		return fmt.Errorf("DOWNLOADER_TIMEOUT_SECONDS must be positive")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("REQUEST_DELAY_SECONDS must not be negative")
	}
	if c.TrendRetention <= 0 {
		return fmt.Errorf("TREND_RETENTION_DAYS must be positive")
	}
	return nil
}

func resolveConfigDir(dir string) (string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", "nicept-helper"), nil
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
	}
	return absPath, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
