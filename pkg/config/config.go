package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Oracle backends.
const (
	OracleSQL    = "sql"
	OracleRedis  = "redis"
	OracleStatic = "static"
)

// Registry backends.
const (
	RegistrySQL    = "sql"
	RegistryMemory = "memory"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	HealthAddr  string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OracleBackend             string
	RegistryBackend           string
	RequireRegisteredApprover bool

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	OTelEnabled  bool
	OTelEndpoint string

	ProfilePath string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

// Load loads configuration from environment variables.
// An empty DATABASE_URL selects lite mode (SQLite under DataDir).
func Load() *Config {
	rps, err := strconv.ParseFloat(os.Getenv("REM_RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		rps = 50
	}

	return &Config{
		ListenAddr:  getenv("REM_LISTEN_ADDR", ":8080"),
		HealthAddr:  getenv("REM_HEALTH_ADDR", ":8081"),
		LogLevel:    strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DataDir:     getenv("REM_DATA_DIR", "data"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		OracleBackend:             strings.ToLower(getenv("REM_ORACLE_BACKEND", OracleSQL)),
		RegistryBackend:           strings.ToLower(getenv("REM_REGISTRY_BACKEND", RegistrySQL)),
		RequireRegisteredApprover: getenvBool("REM_REQUIRE_REGISTERED_APPROVER", true),

		JWTSecret:      os.Getenv("REM_JWT_SECRET"),
		RateLimitRPS:   rps,
		RateLimitBurst: getenvInt("REM_RATE_LIMIT_BURST", 100),

		OTelEnabled:  getenvBool("OTEL_ENABLED", false),
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		ProfilePath: os.Getenv("REM_PROFILE"),
	}
}

// LiteMode reports whether no external database is configured.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// Validate rejects unknown backends and nonsensical limits.
func (c *Config) Validate() error {
	switch c.OracleBackend {
	case OracleSQL, OracleRedis, OracleStatic:
	default:
		return fmt.Errorf("unknown REM_ORACLE_BACKEND %q", c.OracleBackend)
	}
	switch c.RegistryBackend {
	case RegistrySQL, RegistryMemory:
	default:
		return fmt.Errorf("unknown REM_REGISTRY_BACKEND %q", c.RegistryBackend)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("REM_RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}
