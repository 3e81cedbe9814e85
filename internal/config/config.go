// Package config defines the global configuration for the airtime service.
// Configuration is loaded once at process startup and is immutable after.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup (fail fast).
package config

import (
	"time"

	"airtime/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to keep sensitive values out of logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"airtime"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	Realtime      RealtimeConfig
	Billing       BillingConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build metadata is injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout    time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the ephemeral store connection. An empty URL runs the
// service without Redis: rate checks and the concurrency lock fail open and
// the durable ledger remains the only enforcement.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// IdentityConfig holds the external auth provider settings.
type IdentityConfig struct {
	BaseURL string        `envconfig:"IDENTITY_BASE_URL" validate:"required,url"`
	Timeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"5s"`
	// UseStub replaces the provider with a local stub that accepts any token.
	// Development only; refused outside APP_ENV=local by the loader.
	UseStub bool `envconfig:"IDENTITY_USE_STUB" default:"false"`
}

// RealtimeConfig holds the generative-AI provider settings for minting
// ephemeral session credentials.
type RealtimeConfig struct {
	BaseURL      string        `envconfig:"REALTIME_BASE_URL" default:"https://api.openai.com"`
	APIKey       SecretString  `envconfig:"REALTIME_API_KEY" validate:"required"`
	DefaultModel string        `envconfig:"REALTIME_DEFAULT_MODEL" default:"gpt-realtime"`
	Timeout      time.Duration `envconfig:"REALTIME_TIMEOUT" default:"10s"`
}

// BillingConfig holds Stripe webhook verification settings.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AWSConfig holds AWS resource identifiers. The usage queue is optional; when
// empty, settlement skips usage-event publishing.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	UsageQueueURL string `envconfig:"SQS_USAGE_EVENTS"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings. Metrics are disabled when
// EnableMetrics is false (local development).
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Airtime"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing env values into target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
