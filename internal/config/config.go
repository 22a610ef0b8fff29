// Package config loads process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Relay server.
	ListenAddr string
	DBPath     string

	// Client defaults; flags override these.
	RelayURL   string
	ProfileDir string

	// Observability.
	TracingEnabled bool
	JaegerEndpoint string
}

func Load() *Config {
	// Load .env file if it exists.
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("DRIFTLIST_LISTEN_ADDR", ":8080"),
		DBPath:     getEnv("DRIFTLIST_DB_PATH", "rooms.sqlite"),

		RelayURL:   getEnv("DRIFTLIST_RELAY_URL", "http://localhost:8080"),
		ProfileDir: getEnv("DRIFTLIST_PROFILE_DIR", defaultProfileDir()),

		TracingEnabled: getEnvBool("DRIFTLIST_TRACING", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

func defaultProfileDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/driftlist"
	}
	return ".driftlist"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
