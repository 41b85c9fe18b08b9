// Package config loads process configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/poe-platform/poe-protocol/pkg/poe"
)

// Config holds everything the CLI and server need from the environment.
type Config struct {
	// AccessKey protects the inbound bot endpoint. Empty disables the
	// check.
	AccessKey string

	// APIKey authenticates outbound calls to other bots.
	APIKey string

	// BaseURL is the endpoint prefix for outbound bot calls.
	BaseURL string

	Host     string
	Port     int
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; a missing file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		AccessKey: os.Getenv("POE_ACCESS_KEY"),
		APIKey:    os.Getenv("POE_API_KEY"),
		BaseURL:   poe.DefaultBaseURL,
		Host:      "0.0.0.0",
		Port:      8080,
		LogLevel:  "info",
	}

	if v := os.Getenv("POE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("POE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("POE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POE_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("POE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
