// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir          string // base directory for the runs database and exports
	Port             int
	LogLevel         string
	DevMode          bool
	Workers          int // optimizer pool size; 0 = auto (cores, capped)
	RunRetentionDays int // 0 disables retention cleanup

	// Optional off-box artifact backup. Empty bucket disables it.
	// Access keys are optional; without them the default AWS
	// credential chain applies.
	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from environment variables. A .env file in
// the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("STRATLAB_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		Workers:          getEnvAsInt("OPTIMIZER_WORKERS", 0),
		RunRetentionDays: getEnvAsInt("RUN_RETENTION_DAYS", 0),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Region:         getEnv("S3_REGION", "eu-central-1"),
		S3Prefix:         getEnv("S3_PREFIX", "stratlab/runs"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("S3_SECRET_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("OPTIMIZER_WORKERS must be non-negative")
	}
	if c.RunRetentionDays < 0 {
		return fmt.Errorf("RUN_RETENTION_DAYS must be non-negative")
	}
	return nil
}

// RunsDBPath returns the path of the runs database file.
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// ExportDir returns the directory CSV artifacts are written to.
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
