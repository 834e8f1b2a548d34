package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environments the service knows how to boot into. The active one selects
// which dotenv file is loaded before the Config is built.
const (
	EnvDev  = "dev"
	EnvTest = "test"
	EnvProd = "prod"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Env            string
	HTTPAddr       string
	DatabaseDSN    string
	RedisAddr      string
	MaxUploadBytes int64
}

// Load resolves the active environment from APP_ENV, loads the matching
// dotenv file (".env.<env>", falling back to a plain ".env") when present,
// and builds the Config. Values already set in the process environment are
// never overwritten by file contents.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", EnvDev)
	switch env {
	case EnvDev, EnvTest, EnvProd:
	default:
		return nil, fmt.Errorf("unknown APP_ENV %q", env)
	}

	// godotenv.Load never clobbers existing variables, so the real
	// environment always wins over file contents.
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load(".env")

	maxUpload, err := getEnvInt64("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", maxUpload)
	}

	return &Config{
		Env:            env,
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=imagedb port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		MaxUploadBytes: maxUpload,
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
