package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Telecom   TelecomConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	Stores    StoreConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// TelecomConfig holds the telecom provider credentials
type TelecomConfig struct {
	Username    string
	APIKey      string
	Environment string // "sandbox" or "production"
	TimeoutMS   int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds session-store settings
type SessionConfig struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	Sweep   time.Duration
}

// StoreConfig selects persistence backends for workflows and execution logs
type StoreConfig struct {
	WorkflowBackend string // "memory" or "postgres"
	LogBackend      string // "memory" or "postgres"
}

// SchedulerConfig holds the scheduled-trigger ticker settings
type SchedulerConfig struct {
	Enabled bool
	Tick    time.Duration
}

// CacheConfig holds the compiled-graph cache settings
type CacheConfig struct {
	Enabled  bool
	GraphTTL time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Telecom: TelecomConfig{
			Username:    getEnv("AT_USERNAME", "sandbox"),
			APIKey:      getEnv("AT_API_KEY", ""),
			Environment: getEnv("AT_ENVIRONMENT", "sandbox"),
			TimeoutMS:   getEnvInt("AT_TIMEOUT_MS", 10000),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "telflow"),
			User:        getEnv("POSTGRES_USER", "telflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "telflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Backend: getEnv("SESSION_BACKEND", "memory"),
			TTL:     time.Duration(getEnvInt("SESSION_TTL_SECONDS", 180)) * time.Second,
			Sweep:   getEnvDuration("SESSION_SWEEP_INTERVAL", 1*time.Minute),
		},
		Stores: StoreConfig{
			WorkflowBackend: getEnv("WORKFLOW_BACKEND", "memory"),
			LogBackend:      getEnv("LOG_BACKEND", "memory"),
		},
		Scheduler: SchedulerConfig{
			Enabled: getEnvBool("SCHEDULER_ENABLED", true),
			Tick:    getEnvDuration("SCHEDULER_TICK", 30*time.Second),
		},
		Cache: CacheConfig{
			Enabled:  getEnvBool("CACHE_ENABLED", true),
			GraphTTL: getEnvDuration("GRAPH_CACHE_TTL", 1*time.Hour),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Telecom.Environment != "sandbox" && c.Telecom.Environment != "production" {
		return fmt.Errorf("invalid AT_ENVIRONMENT: %s", c.Telecom.Environment)
	}

	if c.Telecom.Environment == "production" && c.Telecom.APIKey == "" {
		return fmt.Errorf("AT_API_KEY is required in production")
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid SESSION_BACKEND: %s", c.Session.Backend)
	}

	if c.NeedsDB() && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	return nil
}

// NeedsDB reports whether any configured backend requires Postgres
func (c *Config) NeedsDB() bool {
	return c.Stores.WorkflowBackend == "postgres" || c.Stores.LogBackend == "postgres"
}

// NeedsRedis reports whether any configured backend requires Redis
func (c *Config) NeedsRedis() bool {
	return c.Session.Backend == "redis"
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
