package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	PlatformName string
	Currency     string

	MinAmountCents int64
	MaxAmountCents int64

	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	StripeAPIBase        string
	ForceCard            bool
	AllowRedirects       bool

	PayPalClientID     string
	PayPalClientSecret string
	PayPalAPIBase      string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

const (
	EnvProduction  = "production"
	EnvTesting     = "testing"
	EnvDevelopment = "development"
)

// Module provides the loaded Config to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewFeeScheduleHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "futurefunded"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: normalizeEnvironment(),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		PlatformName: getenv("PLATFORM_NAME", "FutureFunded"),
		Currency:     strings.ToLower(getenv("DONATION_CURRENCY", "usd")),

		MinAmountCents: getenvInt64("MIN_AMOUNT_CENTS", 100),
		MaxAmountCents: getenvInt64("MAX_AMOUNT_CENTS", 2_500_000),

		StripeSecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripePublishableKey: strings.TrimSpace(getenv("STRIPE_PUBLISHABLE_KEY", "")),
		StripeWebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripeAPIBase:        getenv("STRIPE_API_BASE", "https://api.stripe.com"),
		ForceCard:            getenvBool("STRIPE_FORCE_CARD", false),
		AllowRedirects:       getenvBool("STRIPE_ALLOW_REDIRECTS", false),

		PayPalClientID:     strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
		PayPalClientSecret: strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
		PayPalAPIBase:      getenv("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "futurefunded"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenvInt("SMTP_PORT", 587),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", "receipts@futurefunded.org"),
	}

	return cfg
}

// normalizeEnvironment infers the deploy environment from several env vars,
// first one set wins.
func normalizeEnvironment() string {
	for _, key := range []string{"ENVIRONMENT", "FUTUREFUNDED_ENV", "APP_ENV", "DEPLOYMENT_ENV"} {
		value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
		switch value {
		case "":
			continue
		case "prod", EnvProduction:
			return EnvProduction
		case "test", EnvTesting:
			return EnvTesting
		default:
			return EnvDevelopment
		}
	}
	return EnvDevelopment
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// StripeMode reports live/test/unknown based on the secret key prefix.
func (c Config) StripeMode() string {
	switch {
	case strings.HasPrefix(c.StripeSecretKey, "sk_live_"):
		return "live"
	case strings.HasPrefix(c.StripeSecretKey, "sk_test_"):
		return "test"
	default:
		return "unknown"
	}
}

func (c Config) StripeKeysPresent() bool {
	return c.StripeSecretKey != "" && c.StripePublishableKey != ""
}

func (c Config) StripeKeysLookValid() bool {
	return strings.HasPrefix(c.StripeSecretKey, "sk_") &&
		strings.HasPrefix(c.StripePublishableKey, "pk_")
}

func (c Config) PayPalEnabled() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
