package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production, test

	// Engine
	Engine EngineConfig

	// Fetching
	Fetch FetchConfig

	// Ring buffer capacities
	Capacity CapacityConfig

	// Persistence
	StatePath      string
	StrategyConfig string // YAML strategy file (optional)

	// External APIs
	EODHD EODHDConfig

	// Redis (observation cache, shared rate limit)
	Redis RedisConfig

	// Database (snapshot archive, optional)
	Database DatabaseConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Status API / metrics
	APIEnabled bool
	APIPort    string
}

// EngineConfig holds the forecasting loop parameters
type EngineConfig struct {
	Instruments       []string
	RunDuration       time.Duration // 0 = run indefinitely
	ForecastInterval  time.Duration
	BacktestInterval  time.Duration
	CycleTimeout      time.Duration
	AlertThresholdPct float64
}

// FetchConfig holds DataSource call bounds
type FetchConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	RatePerSec  float64
	Concurrency int
}

// CapacityConfig holds StateStore ring buffer sizes
type CapacityConfig struct {
	Predictions int
	Alerts      int
	Performance int
	Citations   int
}

// EODHDConfig holds market data provider configuration
type EODHDConfig struct {
	APIKey  string
	BaseURL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether the snapshot archive is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := LoadRaw()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads configuration without validation (CLI flags override first)
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func LoadRaw() *Config {
	loadEnvFile()

	return &Config{
		Env: getEnv("ENV", "development"),

		Engine: EngineConfig{
			Instruments:       getEnvAsList("INSTRUMENTS", nil),
			RunDuration:       getEnvAsDuration("RUN_DURATION", "0s"),
			ForecastInterval:  getEnvAsDuration("FORECAST_INTERVAL", "5m"),
			BacktestInterval:  getEnvAsDuration("BACKTEST_INTERVAL", "4m"),
			CycleTimeout:      getEnvAsDuration("CYCLE_TIMEOUT", "90s"),
			AlertThresholdPct: getEnvAsFloat("ALERT_THRESHOLD_PCT", 1.0),
		},

		Fetch: FetchConfig{
			Timeout:     getEnvAsDuration("FETCH_TIMEOUT", "15s"),
			MaxRetries:  getEnvAsInt("FETCH_RETRIES", 3),
			Backoff:     getEnvAsDuration("FETCH_BACKOFF", "500ms"),
			RatePerSec:  getEnvAsFloat("FETCH_RATE_PER_SEC", 10),
			Concurrency: getEnvAsInt("FETCH_CONCURRENCY", 4),
		},

		Capacity: CapacityConfig{
			Predictions: getEnvAsInt("CAP_PREDICTIONS", 1000),
			Alerts:      getEnvAsInt("CAP_ALERTS", 100),
			Performance: getEnvAsInt("CAP_PERFORMANCE", 100),
			Citations:   getEnvAsInt("CAP_CITATIONS", 500),
		},

		StatePath:      getEnv("STATE_PATH", "engine_state.json"),
		StrategyConfig: getEnv("STRATEGY_CONFIG", ""),

		EODHD: EODHDConfig{
			APIKey:  getEnv("EODHD_API_KEY", ""),
			BaseURL: getEnv("EODHD_BASE_URL", "https://eodhd.com/api"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 4),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		APIEnabled: getEnvAsBool("API_ENABLED", true),
		APIPort:    getEnv("API_PORT", "8089"),
	}
}

// Validate checks configuration invariants.
// CLI overrides are applied after Load, so commands call this again.
func (c *Config) Validate() error {
	if len(c.Engine.Instruments) == 0 {
		return fmt.Errorf("INSTRUMENTS is required")
	}

	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be one of: development, staging, production, test")
	}

	if c.Engine.ForecastInterval <= 0 || c.Engine.BacktestInterval <= 0 {
		return fmt.Errorf("FORECAST_INTERVAL and BACKTEST_INTERVAL must be positive")
	}
	if c.Engine.RunDuration < 0 {
		return fmt.Errorf("RUN_DURATION must not be negative")
	}
	if c.Engine.AlertThresholdPct < 0 {
		return fmt.Errorf("ALERT_THRESHOLD_PCT must not be negative")
	}

	if c.Capacity.Predictions <= 0 || c.Capacity.Alerts <= 0 ||
		c.Capacity.Performance <= 0 || c.Capacity.Citations <= 0 {
		return fmt.Errorf("ring buffer capacities must be positive")
	}

	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	return SplitList(valueStr)
}

// SplitList splits "A, B,,C" into [A B C]
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
