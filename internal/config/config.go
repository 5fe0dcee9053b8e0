package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	LogLevel          string
	HTTPListenAddr    string
	DatabaseURL       string
	WhatsAppStorePath string
	WhatsAppLogLevel  string
	GroqAPIKey        string
	GroqModel         string
	GroqTimeout       time.Duration
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string
	GraphTimeout      time.Duration
	MetricsNamespace  string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisTLS          bool
	LookupCacheTTL    time.Duration
}

// Load returns configuration populated from environment variables with fallbacks.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getenvDefault("APP_ENV", "development"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		HTTPListenAddr:    getenvDefault("HTTP_LISTEN_ADDR", ":8080"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		WhatsAppStorePath: getenvDefault("WHATSAPP_STORE_PATH", "data/wa-store.db"),
		WhatsAppLogLevel:  getenvDefault("WHATSAPP_LOG_LEVEL", "INFO"),
		GroqAPIKey:        trimmedEnv("GROQ_API_KEY"),
		GroqModel:         getenvDefault("GROQ_MODEL", "llama-3.1-70b-versatile"),
		AzureClientID:     trimmedEnv("AZURE_CLIENT_ID"),
		AzureClientSecret: trimmedEnv("AZURE_CLIENT_SECRET"),
		AzureTenantID:     trimmedEnv("AZURE_TENANT_ID"),
		MetricsNamespace:  getenvDefault("METRICS_NAMESPACE", "deskbot"),
		RedisAddr:         getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     trimmedEnv("REDIS_PASSWORD"),
	}

	var err error

	groqTimeoutStr := getenvDefault("GROQ_TIMEOUT", "20s")
	if cfg.GroqTimeout, err = time.ParseDuration(groqTimeoutStr); err != nil {
		return nil, fmt.Errorf("invalid GROQ_TIMEOUT duration: %w", err)
	}

	graphTimeoutStr := getenvDefault("GRAPH_TIMEOUT", "15s")
	if cfg.GraphTimeout, err = time.ParseDuration(graphTimeoutStr); err != nil {
		return nil, fmt.Errorf("invalid GRAPH_TIMEOUT duration: %w", err)
	}

	lookupTTLStr := getenvDefault("LOOKUP_CACHE_TTL", "5m")
	if cfg.LookupCacheTTL, err = time.ParseDuration(lookupTTLStr); err != nil {
		return nil, fmt.Errorf("invalid LOOKUP_CACHE_TTL duration: %w", err)
	}

	if redisDBStr := getenvDefault("REDIS_DB", "0"); redisDBStr != "" {
		db, convErr := strconv.Atoi(redisDBStr)
		if convErr != nil {
			return nil, fmt.Errorf("invalid REDIS_DB value: %w", convErr)
		}
		cfg.RedisDB = db
	}

	cfg.RedisTLS = strings.EqualFold(getenvDefault("REDIS_TLS", "false"), "true")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is required")
	}
	if cfg.AzureClientID == "" || cfg.AzureClientSecret == "" || cfg.AzureTenantID == "" {
		return nil, fmt.Errorf("AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID are required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func trimmedEnv(key string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return ""
}
