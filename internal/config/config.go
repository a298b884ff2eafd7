package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Reopen       ReopenConfig
	SLA          SLAConfig
	Worker       WorkerConfig
	CSAT         CSATConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ReopenConfig controls the reopen cooldown and reason length rules.
type ReopenConfig struct {
	CooldownEnabled          bool
	CooldownMS               int64
	ReasonMinLength          int
	FirstReopenReasonMinimum int
}

// Cooldown returns the cooldown window.
func (r ReopenConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownMS) * time.Millisecond
}

// SLAConfig controls default targets and reminders.
type SLAConfig struct {
	DefaultsFile        string
	ReminderLeadMinutes int
	RemindersEnabled    bool
}

// ReminderLead returns how far ahead of a deadline reminders run.
func (s SLAConfig) ReminderLead() time.Duration {
	return time.Duration(s.ReminderLeadMinutes) * time.Minute
}

// WorkerConfig controls the SLA job runner.
type WorkerConfig struct {
	PollSchedule      string
	BatchSize         int
	RetryDelaySeconds int
	// MetricsAddr is where the worker serves /metrics and health probes.
	MetricsAddr string
}

// RetryDelay returns the delay before a failed job is delivered again.
func (w WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(w.RetryDelaySeconds) * time.Second
}

// CSATConfig controls satisfaction survey tokens.
type CSATConfig struct {
	Secret       string
	ValidityDays int
	BaseURL      string
}

// Validity returns how long a survey token stays valid.
func (c CSATConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// NotificationConfig holds delivery settings.
type NotificationConfig struct {
	EmailEnabled        bool
	EmailFrom           string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	IdempotencyTTLHours int
	// IdempotencyLeaseSeconds bounds how long an in-flight delivery holds its key.
	IdempotencyLeaseSeconds int
}

// IdempotencyTTL returns how long delivered idempotency keys are remembered.
func (n NotificationConfig) IdempotencyTTL() time.Duration {
	return time.Duration(n.IdempotencyTTLHours) * time.Hour
}

// IdempotencyLease returns how long a reserved but unfinished key blocks redelivery.
func (n NotificationConfig) IdempotencyLease() time.Duration {
	return time.Duration(n.IdempotencyLeaseSeconds) * time.Second
}

// SMTPAddr returns host:port of the SMTP relay.
func (n NotificationConfig) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", n.SMTPHost, n.SMTPPort)
}

// RateLimitConfig limits requests per authenticated principal.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-lifecycle"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
		},
		Reopen: ReopenConfig{
			CooldownEnabled:          getEnvAsBool("REOPEN_COOLDOWN_ENABLED", true),
			CooldownMS:               int64(getEnvAsInt("REOPEN_COOLDOWN_MS", 3600000)),
			ReasonMinLength:          getEnvAsInt("REOPEN_REASON_MIN_LENGTH", 10),
			FirstReopenReasonMinimum: getEnvAsInt("REOPEN_FIRST_REASON_MIN_LENGTH", 30),
		},
		SLA: SLAConfig{
			DefaultsFile:        os.Getenv("SLA_DEFAULTS_FILE"),
			ReminderLeadMinutes: getEnvAsInt("SLA_REMINDER_LEAD_MINUTES", 60),
			RemindersEnabled:    getEnvAsBool("SLA_REMINDERS_ENABLED", true),
		},
		Worker: WorkerConfig{
			PollSchedule:      getEnv("WORKER_POLL_SCHEDULE", "@every 15s"),
			BatchSize:         getEnvAsInt("WORKER_BATCH_SIZE", 50),
			RetryDelaySeconds: getEnvAsInt("WORKER_RETRY_DELAY_SECONDS", 60),
			MetricsAddr:       getEnv("WORKER_METRICS_ADDR", "0.0.0.0:9091"),
		},
		CSAT: CSATConfig{
			Secret:       getEnv("CSAT_SECRET", "dev-csat-secret"),
			ValidityDays: getEnvAsInt("CSAT_VALIDITY_DAYS", 30),
			BaseURL:      strings.TrimRight(getEnv("CSAT_BASE_URL", "http://localhost:8080"), "/"),
		},
		Notification: NotificationConfig{
			EmailEnabled:            getEnvAsBool("NOTIFY_EMAIL_ENABLED", false),
			EmailFrom:               getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			SMTPHost:                getEnv("SMTP_HOST", "localhost"),
			SMTPPort:                getEnvAsInt("SMTP_PORT", 25),
			SMTPUsername:            os.Getenv("SMTP_USERNAME"),
			SMTPPassword:            os.Getenv("SMTP_PASSWORD"),
			IdempotencyTTLHours:     getEnvAsInt("NOTIFY_IDEMPOTENCY_TTL_HOURS", 168),
			IdempotencyLeaseSeconds: getEnvAsInt("NOTIFY_IDEMPOTENCY_LEASE_SECONDS", 120),
		},
		RateLimit: RateLimitConfig{
			RPS:   rps,
			Burst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
	}

	if cfg.Worker.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid WORKER_BATCH_SIZE: must be positive")
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
