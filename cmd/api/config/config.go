package config

import (
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DataDir             string
	IndexURL            string
	JwtSecret           string
	MaxConcurrentBuilds int
	MaxContextSize      datasize.ByteSize
	InsecureRegistries  bool
}

// Load loads configuration from environment variables.
// Automatically loads .env file if present.
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DataDir:             getEnv("DATA_DIR", "/var/lib/kiln"),
		IndexURL:            getEnv("INDEX_URL", ""),
		JwtSecret:           getEnv("JWT_SECRET", ""),
		MaxConcurrentBuilds: getEnvInt("MAX_CONCURRENT_BUILDS", 2),
		InsecureRegistries:  getEnv("INSECURE_REGISTRIES", "") == "true",
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(getEnv("MAX_CONTEXT_SIZE", "512MB"))); err == nil {
		cfg.MaxContextSize = size
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
