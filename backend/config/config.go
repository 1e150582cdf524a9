package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort    string
	JWTSecret     string
	SessionCookie string

	// Authoritative backend API the sync layer flushes to.
	BackendAPIURL string

	// Storage strategy for the local progress cache: "disk" or "postgres".
	StorageDriver string
	DataDir       string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Sync tunables.
	DebounceWindow time.Duration // quiet period before a durable progress write
	SyncInterval   time.Duration // period of the heartbeat flush job
	BatchSize      int           // interaction count that triggers an immediate flush
	MaxBufferSize  int           // hard ceiling of a user's interaction buffer
	FlushTime      time.Duration // staleness window for the buffer sweep
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file, using environment variables")
	}

	return &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		SessionCookie: getEnv("SESSION_COOKIE", "session_token"),

		BackendAPIURL: getEnv("BACKEND_API_URL", "http://localhost:9000/api"),

		StorageDriver: getEnv("STORAGE_DRIVER", "disk"),
		DataDir:       getEnv("DATA_DIR", "./data"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "lessonsync"),

		DebounceWindow: getEnvMillis("DEBOUNCE_WINDOW_MS", 5000),
		SyncInterval:   getEnvMillis("SYNC_INTERVAL_MS", 30000),
		BatchSize:      getEnvInt("BATCH_SIZE", 5),
		MaxBufferSize:  getEnvInt("MAX_BUFFER_SIZE", 100),
		FlushTime:      getEnvMillis("FLUSH_TIME_MS", 10000),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
