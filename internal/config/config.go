package config

import (
	"os"
	"strconv"
)

type Config struct {
	ServerPort  string
	Environment string

	DatabaseDriver string
	DatabaseURL    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogPath string

	PushAppID              string
	PushBaseURL            string
	PushAuthScheme         string
	PushAPIKey             string
	PushKeyID              string
	PushTeamID             string
	PushKeyPath            string
	PushServiceAccountPath string

	SuppressConcurrency int
	VerifyConcurrency   int
	VerifyTimeoutMS     int
	BroadcastBatchSize  int
}

func Load() *Config {
	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "production"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "./pushgate.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		CatalogPath: getEnv("CATALOG_PATH", ""),

		PushAppID:              getEnv("PUSH_APP_ID", ""),
		PushBaseURL:            getEnv("PUSH_BASE_URL", "https://api.push.example.com"),
		PushAuthScheme:         getEnv("PUSH_AUTH_SCHEME", "key"),
		PushAPIKey:             getEnv("PUSH_API_KEY", ""),
		PushKeyID:              getEnv("PUSH_KEY_ID", ""),
		PushTeamID:             getEnv("PUSH_TEAM_ID", ""),
		PushKeyPath:            getEnv("PUSH_KEY_PATH", ""),
		PushServiceAccountPath: getEnv("PUSH_SERVICE_ACCOUNT_PATH", ""),

		SuppressConcurrency: getIntEnv("SUPPRESS_CONCURRENCY", 8),
		VerifyConcurrency:   getIntEnv("VERIFY_CONCURRENCY", 16),
		VerifyTimeoutMS:     getIntEnv("VERIFY_TIMEOUT_MS", 3000),
		BroadcastBatchSize:  getIntEnv("BROADCAST_BATCH_SIZE", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}
