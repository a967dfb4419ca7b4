package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/c360/lgraccess/config"
)

const defaultShutdownTimeout = 10 * time.Second

// CLIConfig holds the persistent command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

// loadConfig reads the configuration file named by the flags
func loadConfig(flags *CLIConfig) (*config.Config, error) {
	if _, err := os.Stat(flags.ConfigPath); err != nil {
		return nil, fmt.Errorf("config file not found: %s", flags.ConfigPath)
	}
	cfg, err := config.NewLoader().LoadFile(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.ConfigPath, err)
	}
	return cfg, nil
}

// logger builds the process logger. Flags win over the config file.
func (c *CLIConfig) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, format := cfg.Log.Level, cfg.Log.Format
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	if c.LogFormat != "" {
		format = c.LogFormat
	}
	return setupLogger(w, level, format)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
