package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NewRelic     NewRelicConfig
	Auth         AuthConfig
	Dispatch     DispatchConfig
	Notification NotificationConfig
	Kafka        KafkaConfig
	Expiry       ExpiryConfig
	Log          LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Driver   string // postgres or memory
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// DispatchConfig holds the delivery and conflict workflow settings. TTL and
// SearchRadius only seed the runtime settings.
type DispatchConfig struct {
	TTL           time.Duration
	SearchRadius  float64
	CodeLength    int
	AcceptCost    int64
	LockTTL       time.Duration
	PackageTypes  []string
	ConflictTypes []string
}

// NotificationConfig holds the fallback push settings.
type NotificationConfig struct {
	PushURL         string // empty logs pushes instead of sending them
	PushAPIKey      string
	PushTimeout     time.Duration
	DefaultLanguage string
	EventBuffer     int
}

// KafkaConfig enables the event export when Brokers and Topic are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ExpiryConfig controls the optional sweep of lapsed offers.
type ExpiryConfig struct {
	Enabled  bool
	Schedule string
	Batch    int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// Load reads configuration in order: .env file (if present), environment,
// then command-line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("delivery", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := fs.StringP("port", "p", "", "HTTP port (overrides SERVER_PORT)")
	logLevel := fs.String("log-level", "", "log level (overrides LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := FromEnv()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from environment variables alone.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getListEnv("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("STORE_DRIVER", StorePostgres),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "delivery"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getBoolEnv("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "delivery-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Dispatch: DispatchConfig{
			TTL:           getDurationEnv("DELIVERY_TTL", 180*time.Second),
			SearchRadius:  getFloatEnv("SEARCH_RADIUS_METERS", 5500),
			CodeLength:    getIntEnv("DELIVERY_CODE_LENGTH", 6),
			AcceptCost:    int64(getIntEnv("ACCEPT_COST_POINTS", 0)),
			LockTTL:       getDurationEnv("DRIVER_LOCK_TTL", 10*time.Second),
			PackageTypes:  getListEnv("PACKAGE_TYPES", []string{"small", "medium", "large", "fragile"}),
			ConflictTypes: getListEnv("CONFLICT_TYPES", []string{"damaged", "accident", "unreachable", "lost", "other"}),
		},
		Notification: NotificationConfig{
			PushURL:         getEnv("PUSH_GATEWAY_URL", ""),
			PushAPIKey:      getEnv("PUSH_GATEWAY_KEY", ""),
			PushTimeout:     getDurationEnv("PUSH_TIMEOUT", 5*time.Second),
			DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
			EventBuffer:     getIntEnv("EVENT_BUFFER_SIZE", 256),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_EVENTS_TOPIC", ""),
		},
		Expiry: ExpiryConfig{
			Enabled:  getBoolEnv("EXPIRY_SWEEP_ENABLED", false),
			Schedule: getEnv("EXPIRY_SWEEP_SCHEDULE", "*/30 * * * * *"),
			Batch:    getIntEnv("EXPIRY_SWEEP_BATCH", 100),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %q", c.Server.Port))
	}
	if c.Database.Driver != StorePostgres && c.Database.Driver != StoreMemory {
		errs = append(errs, fmt.Errorf("invalid STORE_DRIVER: %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Dispatch.TTL < time.Second {
		errs = append(errs, errors.New("DELIVERY_TTL must be at least 1s"))
	}
	if c.Dispatch.SearchRadius <= 0 {
		errs = append(errs, errors.New("SEARCH_RADIUS_METERS must be positive"))
	}
	if c.Dispatch.CodeLength < 4 {
		errs = append(errs, errors.New("DELIVERY_CODE_LENGTH must be at least 4"))
	}
	if len(c.Dispatch.PackageTypes) == 0 || len(c.Dispatch.ConflictTypes) == 0 {
		errs = append(errs, errors.New("PACKAGE_TYPES and CONFLICT_TYPES must not be empty"))
	}
	return errors.Join(errs...)
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("3m") or plain seconds ("180").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
