package utils

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the ambient process configuration: logging destination
// and level. The sink-specific numeric policy (concurrency, timeout,
// rate limit, retry) lives in packages sink and sinkenv, resolved
// independently per sink against a shared default.
type Config struct {
	LogLevel    string
	LogFilePath string
}

// LoadConfig loads ambient process configuration from the environment,
// optionally populated by a .env file.
func LoadConfig() (*Config, error) {
	// A missing .env file is not fatal outside of local development;
	// only report an error if the file exists but is malformed.
	if _, statErr := os.Stat(".env"); statErr == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFilePath: os.Getenv("LOG_FILE_PATH"),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
