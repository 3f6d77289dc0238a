package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	UserHeader  string

	LogLevel  string
	LogFormat string

	OTLPEndpoint      string
	OTLPProtocol      string
	OtelEnabled       bool
	OtelSamplingRatio float64
	MetricsEnabled    bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	AutoMigrate       bool

	FiscalConfigPath string
	FiscalTimezone   string

	Stripe   StripeConfig
	EInvoice EInvoiceConfig
	Email    EmailConfig
	Redis    RedisConfig
	Sweep    SweepConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIBase overrides the API endpoint, e.g. for stripe-mock.
	APIBase string
	Timeout time.Duration
}

type EInvoiceConfig struct {
	BaseURL string
	APIKey  string
	UserID  string
	Timeout time.Duration
}

type EmailConfig struct {
	Provider      string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	From          string
	FromName      string
	PostmarkToken string
	OwnerEmail    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SweepConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	LockTTL     time.Duration
}

const (
	EmailProviderSMTP     = "smtp"
	EmailProviderPostmark = "postmark"
	EmailProviderNoop     = "noop"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "fiscalsync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		UserHeader:  getenv("AUTH_USER_HEADER", "X-User-ID"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
		OTLPProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelEnabled:       getenvBool("OTEL_ENABLED", false),
		OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		MetricsEnabled:    getenvBool("METRICS_ENABLED", true),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fiscalsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate:       getenvBool("DATABASE_AUTO_MIGRATE", true),

		FiscalConfigPath: strings.TrimSpace(getenv("FISCAL_CONFIG_PATH", "")),
		FiscalTimezone:   getenv("FISCAL_TIMEZONE", "Europe/Athens"),

		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBase:       strings.TrimRight(strings.TrimSpace(getenv("STRIPE_API_BASE", "")), "/"),
			Timeout:       getenvDuration("STRIPE_TIMEOUT", 10*time.Second),
		},
		EInvoice: EInvoiceConfig{
			BaseURL: strings.TrimRight(strings.TrimSpace(getenv("EINVOICE_BASE_URL", "")), "/"),
			APIKey:  strings.TrimSpace(getenv("EINVOICE_API_KEY", "")),
			UserID:  strings.TrimSpace(getenv("EINVOICE_USER_ID", "")),
			Timeout: getenvDuration("EINVOICE_TIMEOUT", 10*time.Second),
		},
		Email: EmailConfig{
			Provider:      strings.ToLower(getenv("EMAIL_PROVIDER", EmailProviderSMTP)),
			SMTPHost:      getenv("SMTP_HOST", "localhost"),
			SMTPPort:      getenvInt("SMTP_PORT", 1025),
			SMTPUsername:  getenv("SMTP_USERNAME", ""),
			SMTPPassword:  getenv("SMTP_PASSWORD", ""),
			From:          getenv("EMAIL_FROM", "billing@localhost"),
			FromName:      getenv("EMAIL_FROM_NAME", ""),
			PostmarkToken: strings.TrimSpace(getenv("POSTMARK_SERVER_TOKEN", "")),
			OwnerEmail:    strings.TrimSpace(getenv("OWNER_EMAIL", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Sweep: SweepConfig{
			Enabled:     getenvBool("SWEEP_ENABLED", true),
			Interval:    getenvDuration("SWEEP_INTERVAL", 15*time.Minute),
			BatchSize:   getenvInt("SWEEP_BATCH_SIZE", 50),
			Concurrency: getenvInt("SWEEP_CONCURRENCY", 4),
			Timeout:     getenvDuration("SWEEP_TIMEOUT", 5*time.Minute),
			LockTTL:     getenvDuration("SWEEP_LOCK_TTL", 10*time.Minute),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate reports missing or malformed settings as a configuration error.
// A failure here is fatal at startup.
func (c Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	require("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	require("EINVOICE_BASE_URL", c.EInvoice.BaseURL)
	require("EINVOICE_API_KEY", c.EInvoice.APIKey)
	require("EINVOICE_USER_ID", c.EInvoice.UserID)
	require("AUTH_USER_HEADER", c.UserHeader)

	switch c.Email.Provider {
	case EmailProviderSMTP:
		require("SMTP_HOST", c.Email.SMTPHost)
		require("EMAIL_FROM", c.Email.From)
	case EmailProviderPostmark:
		require("POSTMARK_SERVER_TOKEN", c.Email.PostmarkToken)
		require("EMAIL_FROM", c.Email.From)
	case EmailProviderNoop:
	default:
		return ierr.NewErrorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider).
			Mark(ierr.ErrConfiguration)
	}

	if len(missing) > 0 {
		return ierr.NewErrorf("missing required configuration: %s", strings.Join(missing, ", ")).
			Mark(ierr.ErrConfiguration)
	}

	if _, err := time.LoadLocation(c.FiscalTimezone); err != nil {
		return ierr.NewErrorf("invalid FISCAL_TIMEZONE %q: %v", c.FiscalTimezone, err).
			Mark(ierr.ErrConfiguration)
	}
	if c.EInvoice.Timeout <= 0 {
		return ierr.NewError("EINVOICE_TIMEOUT must be positive").Mark(ierr.ErrConfiguration)
	}
	return nil
}

// Location returns the timezone fiscal years are computed in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.FiscalTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
