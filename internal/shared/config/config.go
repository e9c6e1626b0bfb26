package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	DevinAPIURL  string
	DevinAPIKey  string
	DevinMock    bool
	DevinTimeout time.Duration

	GitHubToken string

	DatabaseURL string

	StreamPollInterval time.Duration
	StreamDrainGrace   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	return Config{
		Port:               getEnv("PORT", "8080"),
		Env:                normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin:    splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000")),
		DevinAPIURL:        getEnv("DEVIN_API_URL", "https://api.devin.ai/v1"),
		DevinAPIKey:        os.Getenv("DEVIN_API_KEY"),
		DevinMock:          getEnvBool("DEVIN_MOCK_MODE", false),
		DevinTimeout:       getEnvSeconds("DEVIN_TIMEOUT_SECONDS", 30*time.Second),
		GitHubToken:        os.Getenv("GITHUB_TOKEN"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StreamPollInterval: getEnvMillis("STREAM_POLL_INTERVAL_MS", 500*time.Millisecond),
		StreamDrainGrace:   getEnvMillis("STREAM_DRAIN_GRACE_MS", 8*time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return time.Duration(parsed) * time.Second
	}
	return def
}

func getEnvMillis(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return time.Duration(parsed) * time.Millisecond
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
