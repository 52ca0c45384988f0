package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort int    `yaml:"server_port"`
	Host       string `yaml:"host"`

	// Device store
	StoreDriver string `yaml:"store_driver"` // file | postgres
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`

	// Backend
	BackendURL       string `yaml:"backend_url"`
	BackendPublicKey string `yaml:"backend_public_key"`

	// Sync engine
	SyncIntervalSeconds  int `yaml:"sync_interval_seconds"`
	PushDebounceMillis   int `yaml:"push_debounce_millis"`
	PullRetryAttempts    int `yaml:"pull_retry_attempts"`
	PullRetryDelaySecond int `yaml:"pull_retry_delay_seconds"`

	// Debug
	Debug bool `yaml:"debug"`
}

// Load returns the configuration with hardcoded defaults, optionally overlaid
// by couchpilot.yml (or CONFIG_FILE) and then by environment variables.
// Environment always wins so container deployments stay env-driven.
func Load() *Config {
	cfg := &Config{
		ServerPort: 7950,
		Host:       "127.0.0.1",

		StoreDriver: "file",
		DataDir:     "./data",
		DatabaseURL: "",

		BackendURL:       "https://api.couchpilot.tv",
		BackendPublicKey: "",

		SyncIntervalSeconds:  120,
		PushDebounceMillis:   1000,
		PullRetryAttempts:    3,
		PullRetryDelaySecond: 3,

		Debug: false,
	}

	cfg.loadFile(getEnv("CONFIG_FILE", "couchpilot.yml"))

	cfg.ServerPort = getEnvInt("SERVER_PORT", cfg.ServerPort)
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendPublicKey = getEnv("BACKEND_PUBLIC_KEY", cfg.BackendPublicKey)
	cfg.SyncIntervalSeconds = getEnvInt("SYNC_INTERVAL_SECONDS", cfg.SyncIntervalSeconds)
	cfg.PushDebounceMillis = getEnvInt("PUSH_DEBOUNCE_MILLIS", cfg.PushDebounceMillis)
	cfg.PullRetryAttempts = getEnvInt("PULL_RETRY_ATTEMPTS", cfg.PullRetryAttempts)
	cfg.PullRetryDelaySecond = getEnvInt("PULL_RETRY_DELAY_SECONDS", cfg.PullRetryDelaySecond)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)

	return cfg
}

// loadFile overlays values from a YAML config file if one exists.
func (c *Config) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Best effort: a malformed file is ignored rather than fatal, the
	// defaults and environment still produce a working config.
	_ = yaml.Unmarshal(data, c)
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return fallback
}
