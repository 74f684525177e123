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
	Addr              string
	DatabaseURL       string
	Environment       string
	RunMigrations     bool
	MigrationsDir     string
	JWTSecret         string
	OperatorKeyHash   string
	TokenTTL          time.Duration
	ArchiveDir        string
	PageSize          int
	MaxParallel       int
	OpTimeout         time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
	MinRetention      time.Duration
	LockTTL           time.Duration
	HourlySchedule    string
	DailySchedule     string
	HourlyCategories  []string
	DailyCategories   []string
	MetricsEnabled    bool
	ReportFailureRate float64
	// CategoryTables maps each purgeable category to the Postgres table
	// holding its records, e.g. "exports:export_records,sessions:sessions".
	// A bare name maps to a table of the same name.
	CategoryTables map[string]string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	return Config{
		Addr:              getEnv("APP_ADDR", ":8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		Environment:       getEnv("APP_ENV", "development"),
		RunMigrations:     getEnvBool("RUN_MIGRATIONS", true),
		MigrationsDir:     getEnv("MIGRATIONS_DIR", "migrations"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		OperatorKeyHash:   getEnv("OPERATOR_KEY_HASH", ""),
		TokenTTL:          getEnvDuration("TOKEN_TTL", 12*time.Hour),
		ArchiveDir:        getEnv("ARCHIVE_DIR", "storage/archives"),
		PageSize:          getEnvInt("PURGE_PAGE_SIZE", 500),
		MaxParallel:       getEnvInt("PURGE_MAX_PARALLEL", 4),
		OpTimeout:         getEnvDuration("PURGE_OP_TIMEOUT", 10*time.Second),
		MaxAttempts:       getEnvInt("PURGE_MAX_ATTEMPTS", 3),
		RetryBackoff:      getEnvDuration("PURGE_RETRY_BACKOFF", 250*time.Millisecond),
		MinRetention:      getEnvDuration("PURGE_MIN_RETENTION", time.Hour),
		LockTTL:           getEnvDuration("PURGE_LOCK_TTL", 6*time.Hour),
		HourlySchedule:    getEnv("SCHEDULE_HOURLY", "0 * * * *"),
		DailySchedule:     getEnv("SCHEDULE_DAILY", "0 3 * * *"),
		HourlyCategories:  getEnvList("HOURLY_CATEGORIES", nil),
		DailyCategories:   getEnvList("DAILY_CATEGORIES", nil),
		MetricsEnabled:    getEnvBool("METRICS_ENABLED", true),
		ReportFailureRate: getEnvFloat("REPORT_FAILURE_RATE", 0.1),
		CategoryTables:    getEnvPairs("PURGE_CATEGORIES", nil),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvPairs(key string, fallback map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	out := map[string]string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, table, found := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !found || strings.TrimSpace(table) == "" {
			table = name
		}
		out[name] = strings.TrimSpace(table)
	}
	return out
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.OperatorKeyHash) == "" {
			return fmt.Errorf("OPERATOR_KEY_HASH must be set in production")
		}
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PURGE_PAGE_SIZE must be positive")
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("PURGE_MAX_PARALLEL must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("PURGE_MAX_ATTEMPTS must be positive")
	}
	if c.MinRetention < 0 {
		return fmt.Errorf("PURGE_MIN_RETENTION must not be negative")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("PURGE_LOCK_TTL must be positive")
	}
	return nil
}
