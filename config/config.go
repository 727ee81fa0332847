// Package config provides application configuration management.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort string

	// Upstream compute service (crosstabs, ML training, report rendering)
	ComputeBaseURL string
	ComputeToken   string
	ComputeTimeout time.Duration

	// Auth configuration
	JWTSecret    string
	JWTIssuer    string
	TokenTTL     time.Duration
	AdminUser    string
	AdminSecret  string
	AuthRequired bool

	// Dataset storage
	DatasetRoot   string
	ExportRoot    string
	UploadMaxMB   int64
	StatePath     string
	DataStoreDSN  string
	HistoryLimit  int
	NotifyFeedCap int

	// Federation catalog
	FederationCatalogRoot string
	FederationSchemaPath  string
	FederationDSN         string
	CatalogRefreshEvery   time.Duration

	// Transform specs
	TransformSchemaPath string

	// Realtime channel
	WSSendQueue    int
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string
	RedisJobStream   string
	RedisJobGroup    string

	// Job execution
	MaxJobAttempts int
	JobTimeout     time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("STATE_PATH", "/app/state")
	dsn := getEnv("DATASTORE_DSN", "")
	if dsn == "" {
		dsn = filepath.Join(statePath, "statstream.db")
	}
	return &Config{
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		ComputeBaseURL:        getEnv("COMPUTE_BASE_URL", "http://localhost:9090"),
		ComputeToken:          os.Getenv("COMPUTE_API_TOKEN"),
		ComputeTimeout:        getEnvDuration("COMPUTE_TIMEOUT", 2*time.Minute),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTIssuer:             getEnv("JWT_ISSUER", "statstream"),
		TokenTTL:              getEnvDuration("TOKEN_TTL", 12*time.Hour),
		AdminUser:             getEnv("ADMIN_USER", "admin"),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		AuthRequired:          getEnvBool("AUTH_REQUIRED", true),
		DatasetRoot:           getEnv("DATASET_ROOT", filepath.Join(statePath, "datasets")),
		ExportRoot:            getEnv("EXPORT_ROOT", filepath.Join(statePath, "exports")),
		UploadMaxMB:           int64(getEnvInt("UPLOAD_MAX_MB", 512)),
		StatePath:             statePath,
		DataStoreDSN:          dsn,
		HistoryLimit:          getEnvInt("HISTORY_LIMIT", 100),
		NotifyFeedCap:         getEnvInt("NOTIFY_FEED_CAP", 50),
		FederationCatalogRoot: getEnv("FEDERATION_CATALOG_ROOT", "/workspace/federation"),
		FederationSchemaPath:  getEnv("FEDERATION_SCHEMA_PATH", ""),
		FederationDSN:         os.Getenv("FEDERATION_POSTGRES_DSN"),
		CatalogRefreshEvery:   getEnvDuration("FEDERATION_REFRESH_INTERVAL", 5*time.Minute),
		TransformSchemaPath:   getEnv("TRANSFORM_SCHEMA_PATH", ""),
		WSSendQueue:           getEnvInt("WS_SEND_QUEUE", 32),
		WSPingInterval:        getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		WSWriteTimeout:        getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisUsername:         getEnv("REDIS_USERNAME", ""),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:       getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:      getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:         getEnv("EVENTS_CHANNEL", "statstream-events"),
		RedisJobStream:        getEnv("REDIS_JOB_STREAM", "statstream:jobs"),
		RedisJobGroup:         getEnv("REDIS_JOB_GROUP", "analysis-workers"),
		MaxJobAttempts:        getEnvInt("MAX_JOB_ATTEMPTS", 3),
		JobTimeout:            getEnvDuration("JOB_TIMEOUT", 1*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
