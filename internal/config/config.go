// Package config provides configuration management for the eco assistant bot.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	VK            VKConfig
	Overpass      OverpassConfig
	Cache         CacheConfig
	Notifications NotificationConfig
	Gamification  GamificationConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by migrations.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables the action log.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration. An empty Host disables the second-level point cache.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// VKConfig holds VK API configuration
type VKConfig struct {
	Token      string
	APIURL     string
	APIVersion string
	SendRPS    int
	// SendAttempts bounds tries for transient send failures
	SendAttempts int
}

// OverpassConfig holds Overpass API configuration
type OverpassConfig struct {
	URL         string
	Radius      int // meters
	Timeout     time.Duration
	RPS         int
	MaxAttempts int
	// DailyBudget caps lookups per UTC day across instances.
	// Needs Redis; 0 disables the cap.
	DailyBudget int
}

// CacheConfig holds point cache configuration
type CacheConfig struct {
	// PointTTL is the lifetime of point sets in the Redis tier.
	// The in-process tier never expires.
	PointTTL time.Duration
	// SnapshotInterval is how often the cache is written to Postgres; 0 saves only on shutdown.
	SnapshotInterval time.Duration
}

// NotificationConfig holds notification scheduler configuration
type NotificationConfig struct {
	Enabled     bool
	MinInterval time.Duration
	MaxInterval time.Duration
}

// GamificationConfig holds leaderboard and daily bonus configuration
type GamificationConfig struct {
	LeaderboardSize int
	TimeZone        string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "eco_bot"),
				User:           getEnv("POSTGRES_USER", "postgres"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "eco_bot"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		VK: VKConfig{
			Token:        getEnv("VK_TOKEN", ""),
			APIURL:       getEnv("VK_API_URL", "https://api.vk.com/method"),
			APIVersion:   getEnv("VK_API_VERSION", "5.199"),
			SendRPS:      getEnvAsInt("VK_SEND_RPS", 20),
			SendAttempts: getEnvAsInt("VK_SEND_ATTEMPTS", 3),
		},
		Overpass: OverpassConfig{
			URL:         getEnv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
			Radius:      getEnvAsInt("OVERPASS_RADIUS", 5000),
			Timeout:     getEnvAsDuration("OVERPASS_TIMEOUT", 10*time.Second),
			RPS:         getEnvAsInt("OVERPASS_RPS", 2),
			MaxAttempts: getEnvAsInt("OVERPASS_MAX_ATTEMPTS", 3),
			DailyBudget: getEnvAsInt("OVERPASS_DAILY_BUDGET", 10000),
		},
		Cache: CacheConfig{
			PointTTL:         getEnvAsDuration("CACHE_POINT_TTL", 24*time.Hour),
			SnapshotInterval: getEnvAsDuration("CACHE_SNAPSHOT_INTERVAL", 5*time.Minute),
		},
		Notifications: NotificationConfig{
			Enabled:     getEnvAsBool("NOTIFY_ENABLED", true),
			MinInterval: getEnvAsDuration("NOTIFY_MIN_INTERVAL", 12*time.Hour),
			MaxInterval: getEnvAsDuration("NOTIFY_MAX_INTERVAL", 32*time.Hour),
		},
		Gamification: GamificationConfig{
			LeaderboardSize: getEnvAsInt("LEADERBOARD_SIZE", 10),
			TimeZone:        getEnv("BOT_TIMEZONE", "Europe/Moscow"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the bot cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Notifications.MinInterval <= 0 {
		problems = append(problems, "NOTIFY_MIN_INTERVAL must be positive")
	}
	if c.Notifications.MinInterval > c.Notifications.MaxInterval {
		problems = append(problems, "NOTIFY_MIN_INTERVAL must not exceed NOTIFY_MAX_INTERVAL")
	}
	if c.Notifications.Enabled && strings.TrimSpace(c.VK.Token) == "" {
		problems = append(problems, "VK_TOKEN is required when notifications are enabled")
	}
	if c.Gamification.LeaderboardSize < 1 {
		problems = append(problems, "LEADERBOARD_SIZE must be at least 1")
	}
	if _, err := time.LoadLocation(c.Gamification.TimeZone); err != nil {
		problems = append(problems, fmt.Sprintf("BOT_TIMEZONE %q is not a valid time zone", c.Gamification.TimeZone))
	}
	if c.Cache.SnapshotInterval < 0 {
		problems = append(problems, "CACHE_SNAPSHOT_INTERVAL must not be negative")
	}
	if c.Overpass.Radius <= 0 {
		problems = append(problems, "OVERPASS_RADIUS must be positive")
	}
	if c.Overpass.DailyBudget < 0 {
		problems = append(problems, "OVERPASS_DAILY_BUDGET cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the time zone used for daily bonus boundaries
func (c *GamificationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
