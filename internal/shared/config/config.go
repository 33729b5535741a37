package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	KurrentDB    KurrentDBConfig
	Redis        RedisConfig
	Queue        QueueConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Privacy      PrivacyConfig
	RateLimit    RateLimitConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
}

// IsProduction reports whether the server runs with production defaults.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port     int
	Insecure bool
	Username string
	Password string
	// StreamPrefix is prepended to every stream the bus appends to
	StreamPrefix string
}

// RedisConfig is shared by the membership cache and the task queue.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Username string
	Password string
	DB       int
	// MembershipTTL bounds how long pre-fetched memberships are trusted
	MembershipTTL time.Duration
}

// QueueConfig controls the asynq notification queue.
type QueueConfig struct {
	Enabled     bool
	Concurrency int
	MaxRetry    int
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// NotificationConfig sizes the in-process dispatcher.
type NotificationConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// PrivacyConfig controls how reporter identities are rendered to lawyers.
type PrivacyConfig struct {
	// PseudonymKey enables HMAC pseudonyms; empty falls back to member-{id}
	PseudonymKey string
}

type RateLimitConfig struct {
	ClaimsPerMinute int
	ClaimBurst      int
}

type LogConfig struct {
	Level  string
	Format string // json, console
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:      getEnvBool("KURRENTDB_ENABLED", true),
			Host:         getEnv("KURRENTDB_HOST", "localhost"),
			Port:         getEnvInt("KURRENTDB_PORT", 2113),
			Insecure:     getEnvBool("KURRENTDB_INSECURE", true),
			Username:     getEnv("KURRENTDB_USERNAME", ""),
			Password:     getEnv("KURRENTDB_PASSWORD", ""),
			StreamPrefix: getEnv("KURRENTDB_STREAM_PREFIX", "consult"),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", true),
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Username:      getEnv("REDIS_USERNAME", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			MembershipTTL: getEnvDuration("REDIS_MEMBERSHIP_TTL", 5*time.Minute),
		},
		Queue: QueueConfig{
			Enabled:     getEnvBool("QUEUE_ENABLED", true),
			Concurrency: getEnvInt("QUEUE_CONCURRENCY", 10),
			MaxRetry:    getEnvInt("QUEUE_MAX_RETRY", 3),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "unionlegal"),
		},
		Notification: NotificationConfig{
			Workers:       getEnvInt("NOTIFY_WORKERS", 4),
			BufferSize:    getEnvInt("NOTIFY_BUFFER", 1000),
			RetryAttempts: getEnvInt("NOTIFY_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("NOTIFY_RETRY_DELAY", 2*time.Second),
		},
		Privacy: PrivacyConfig{
			PseudonymKey: getEnv("PRIVACY_PSEUDONYM_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			ClaimsPerMinute: getEnvInt("RATE_CLAIMS_PER_MINUTE", 30),
			ClaimBurst:      getEnvInt("RATE_CLAIM_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
	}

	if cfg.Server.IsProduction() && cfg.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	if cfg.Notification.Workers < 1 {
		cfg.Notification.Workers = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvSlice parses a comma separated list, dropping empty entries.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
