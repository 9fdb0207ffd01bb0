package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend      string
	SQLiteDBPath     string
	MongoURI         string
	MongoDatabase    string
	CategorySeedFile string

	// AMQP (optional async import path)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Bank account data aggregator
	GatewayBaseURL     string
	GatewayAccessToken string
	GatewaySecretID    string
	GatewaySecretKey   string
	GatewayRedirectURL string
	GatewayTimeout     time.Duration
	GatewayMaxRetries  int

	// Import
	ImportAllAccounts bool

	// Auth and request limits
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8000"),

		DataBackend:      getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath:     getEnv("SQLITE_DB_PATH", "./data/expensetracker.db"),
		MongoURI:         getEnv("MONGODB_URI", ""),
		MongoDatabase:    getEnv("MONGODB_DATABASE", "expensetracker"),
		CategorySeedFile: getEnv("CATEGORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expensetracker"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "bank_imports"),

		GatewayBaseURL:     getEnv("GOCARDLESS_BANK_ACCOUNT_INFO_BASE_URL", ""),
		GatewayAccessToken: getEnv("GOCARDLESS_ACCESS_TOKEN", ""),
		GatewaySecretID:    getEnv("GOCARDLESS_SECRET_ID", ""),
		GatewaySecretKey:   getEnv("GOCARDLESS_SECRET_KEY", ""),
		GatewayRedirectURL: getEnv("GOCARDLESS_REDIRECT_URL", "http://localhost:8000/callback"),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayMaxRetries:  getEnvInt("GATEWAY_MAX_RETRIES", 0),

		ImportAllAccounts: getEnvBool("IMPORT_ALL_ACCOUNTS", false),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// GatewayConfigured reports whether the aggregator can be called at all.
// The server still starts without it; bank operations then fail.
func (c *Config) GatewayConfigured() bool {
	return c.GatewayBaseURL != "" &&
		(c.GatewayAccessToken != "" || (c.GatewaySecretID != "" && c.GatewaySecretKey != ""))
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite", "mongo"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "mongo" {
		if c.MongoURI == "" {
			errors = append(errors, "MONGODB_URI is required when using mongo backend")
		} else if u, err := url.Parse(c.MongoURI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI '%s': scheme must be 'mongodb' or 'mongodb+srv'", c.MongoURI))
		}
		if c.MongoDatabase == "" {
			errors = append(errors, "MongoDB database name cannot be empty when using mongo backend")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GatewayBaseURL != "" {
		if u, err := url.Parse(c.GatewayBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid gateway base URL '%s'", c.GatewayBaseURL))
		}
	}
	if (c.GatewaySecretID == "") != (c.GatewaySecretKey == "") {
		errors = append(errors, "GOCARDLESS_SECRET_ID and GOCARDLESS_SECRET_KEY must be set together")
	}
	if c.GatewayRedirectURL != "" {
		if u, err := url.Parse(c.GatewayRedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid redirect URL '%s'", c.GatewayRedirectURL))
		}
	}
	if c.GatewayTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid gateway timeout %v: must be at least 1 second", c.GatewayTimeout))
	} else if c.GatewayTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid gateway timeout %v: must be at most 5 minutes", c.GatewayTimeout))
	}
	if c.GatewayMaxRetries < 0 || c.GatewayMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid gateway max retries %d: must be between 0 and 10", c.GatewayMaxRetries))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT secret must be at least 32 characters")
	}
	if c.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must be greater than 0", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
