package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Business-hours gate for the send cycles
	BusinessTimezone   string
	BusinessHoursStart int
	BusinessHoursEnd   int
	BusinessLocation   *time.Location

	// SMTP Configuration
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPTimeout        time.Duration
	SMTPSendsPerSecond float64

	// Sender addresses. A sequence override wins, then the department
	// address, then DefaultFromEmail.
	DefaultFromEmail string
	DepartmentFrom   map[string]string

	// Inbound reply mailbox. Empty host or password disables check-replies.
	ProspectIMAPHost          string
	ProspectIMAPPort          int
	ProspectIMAPUser          string
	ProspectReplyEmail        string
	ProspectReplyIMAPPassword string
	IMAPLookbackHours         int
	IMAPTimeout               time.Duration

	// Public base URL (for unsubscribe links)
	SiteURL           string
	UnsubscribeSecret string

	// AI Provider Configuration
	AIProvider       string // "anthropic", "openai", "mock" or "none"
	AnthropicAPIKey  string
	AnthropicModel   string
	OpenAIAPIKey     string
	OpenAIModel      string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration
	AIDraftTTL       time.Duration

	// Cycle limits
	MaxExecutionsPerCycle int
	StaleDealDays         int

	// Storage Configuration (attachment documents)
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// Cycle lock. Empty RedisURL runs without a lock.
	RedisURL     string
	CycleLockTTL time.Duration

	// Worker Configuration (serve mode)
	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerJobTimeout   time.Duration

	// Cron schedules for serve mode
	CronEmailCycle    string
	CronProspectCycle string
	CronCheckReplies  string
	CronExpireDrafts  string
	CronSeasonalDates string

	SentryDSN string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BusinessTimezone:   getEnv("BUSINESS_TIMEZONE", "Europe/Amsterdam"),
		BusinessHoursStart: getEnvInt("BUSINESS_HOURS_START", 9),
		BusinessHoursEnd:   getEnvInt("BUSINESS_HOURS_END", 17),

		// SMTP has no default host: an unset host disables sending
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnvInt("SMTP_PORT", 587),
		SMTPUser:           getEnv("SMTP_USER", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SMTPTimeout:        getEnvDuration("SMTP_TIMEOUT", 20*time.Second),
		SMTPSendsPerSecond: getEnvFloat("SMTP_SENDS_PER_SECOND", 2),

		DefaultFromEmail: getEnv("DEFAULT_FROM_EMAIL", ""),
		DepartmentFrom: map[string]string{
			"sales":   getEnv("FROM_EMAIL_SALES", ""),
			"finance": getEnv("FROM_EMAIL_FINANCE", ""),
			"tech":    getEnv("FROM_EMAIL_TECH", ""),
			"music":   getEnv("FROM_EMAIL_MUSIC", ""),
		},

		ProspectIMAPHost:          getEnv("PROSPECT_IMAP_HOST", ""),
		ProspectIMAPPort:          getEnvInt("PROSPECT_IMAP_PORT", 993),
		ProspectReplyEmail:        getEnv("PROSPECT_REPLY_EMAIL", ""),
		ProspectReplyIMAPPassword: getEnv("PROSPECT_REPLY_IMAP_PASSWORD", ""),
		IMAPLookbackHours:         getEnvInt("IMAP_LOOKBACK_HOURS", 24),
		IMAPTimeout:               getEnvDuration("IMAP_TIMEOUT", 30*time.Second),

		SiteURL:           strings.TrimRight(getEnv("SITE_URL", "http://localhost:8080"), "/"),
		UnsubscribeSecret: getEnv("UNSUBSCRIBE_SECRET", ""),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "anthropic"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		AIDraftTTL:       getEnvDuration("AI_DRAFT_TTL", 24*time.Hour),

		MaxExecutionsPerCycle: getEnvInt("MAX_EXECUTIONS_PER_CYCLE", 100),
		StaleDealDays:         getEnvInt("STALE_DEAL_DAYS", 14),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		RedisURL:     getEnv("REDIS_URL", ""),
		CycleLockTTL: getEnvDuration("CYCLE_LOCK_TTL", 15*time.Minute),

		// Worker defaults
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:   getEnvDuration("WORKER_JOB_TIMEOUT", 10*time.Minute),

		CronEmailCycle:    getEnv("CRON_EMAIL_CYCLE", "*/10 * * * *"),
		CronProspectCycle: getEnv("CRON_PROSPECT_CYCLE", "*/20 * * * *"),
		CronCheckReplies:  getEnv("CRON_CHECK_REPLIES", "0 * * * *"),
		CronExpireDrafts:  getEnv("CRON_EXPIRE_DRAFTS", "*/10 * * * *"),
		CronSeasonalDates: getEnv("CRON_SEASONAL_DATES", "0 3 1 12 *"),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	cfg.ProspectIMAPUser = getEnv("PROSPECT_IMAP_USER", cfg.ProspectReplyEmail)

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks the values that make the whole process unusable. Missing
// SMTP, IMAP or AI credentials are not errors: the cycles that need them
// log and skip.
func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	c.BusinessLocation = loc

	if c.BusinessHoursStart < 0 || c.BusinessHoursEnd > 24 || c.BusinessHoursStart >= c.BusinessHoursEnd {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d",
			c.BusinessHoursStart, c.BusinessHoursEnd)
	}

	if c.MaxExecutionsPerCycle < 1 {
		return fmt.Errorf("MAX_EXECUTIONS_PER_CYCLE must be at least 1, got %d", c.MaxExecutionsPerCycle)
	}

	// Validate storage configuration
	if c.StorageProvider == "r2" {
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if c.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	switch c.AIProvider {
	case "anthropic", "openai", "mock", "none":
	default:
		return fmt.Errorf("AI_PROVIDER must be one of 'anthropic', 'openai', 'mock' or 'none', got: %s", c.AIProvider)
	}

	return nil
}

// SMTPConfigured reports whether outbound mail can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.DefaultFromEmail != ""
}

// IMAPConfigured reports whether the reply mailbox can be polled.
func (c *Config) IMAPConfigured() bool {
	return c.ProspectIMAPHost != "" && c.ProspectReplyEmail != "" && c.ProspectReplyIMAPPassword != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
