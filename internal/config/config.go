package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"studentquery/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port        string
	DatabaseURL string // MySQL DSN for the academic records store
	MongoURI    string // Ledger + conversation persistence (in-memory ledger when empty)
	RedisURL    string // Work queue + pub/sub (in-process emitter when empty)

	ProvidersFile string // providers.json with LLM endpoint settings
	SourcesFile   string // sources.yaml with worker/source tuning

	// Coordination tuning
	RequestRetention time.Duration // ledger entries expire after this window
	HistoryWindow    int           // conversation turns passed to the LLM
	FetchTimeout     time.Duration // per-source fetch budget inside a worker
	WorkerCount      int           // queue consumers per instance
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoURI:    getEnv("MONGODB_URI", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.json"),
		SourcesFile:   getEnv("SOURCES_FILE", "sources.yaml"),

		RequestRetention: getDurationEnv("REQUEST_RETENTION", 24*time.Hour),
		HistoryWindow:    getIntEnv("HISTORY_WINDOW", 10),
		FetchTimeout:     getDurationEnv("FETCH_TIMEOUT", 15*time.Second),
		WorkerCount:      getIntEnv("WORKER_COUNT", 4),
	}
}

// LoadProviders loads LLM provider configuration from a JSON file
func LoadProviders(filePath string) (*models.ProvidersConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var config models.ProvidersConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
