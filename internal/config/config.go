// Package config defines the global configuration structure for the mailfan
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast): external clients are explicitly
// constructed from validated configuration, never lazily initialized on
// first use.
package config

import (
	"time"

	"mailfan/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the mailfan service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Email     EmailConfig
	Broker    BrokerConfig
	Directory DirectoryConfig
	Queue     QueueConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// PublicBaseURL is the externally reachable base URL of this service
	// (no trailing slash). The dispatcher appends the webhook path to it
	// when publishing batch messages so the broker can call back.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" validate:"required,url"`
}

// RedisConfig holds job store connection parameters.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// AWSConfig holds regional configuration for the email provider.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery defaults.
type EmailConfig struct {
	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" validate:"required,email"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"Mailfan"`
}

// BrokerConfig holds the push-delivery broker credentials and the signing
// keys used to verify inbound batch webhooks. Two keys are accepted
// simultaneously to allow zero-downtime rotation: the broker signs with the
// current key, and during rotation the next key is also honored.
type BrokerConfig struct {
	PublishURL     string       `envconfig:"BROKER_PUBLISH_URL" validate:"required,url"`
	Token          SecretString `envconfig:"BROKER_TOKEN" validate:"required"`
	SigningKey     SecretString `envconfig:"BROKER_SIGNING_KEY" validate:"required"`
	NextSigningKey SecretString `envconfig:"BROKER_NEXT_SIGNING_KEY"`
	// MaxDeliveryRetries is the provider-side retry budget requested per
	// published message.
	MaxDeliveryRetries int `envconfig:"BROKER_MAX_DELIVERY_RETRIES" default:"3"`
}

// DirectoryConfig holds the identity provider connection used to resolve
// recipient IDs into deliverable profiles.
type DirectoryConfig struct {
	BaseURL string       `envconfig:"DIRECTORY_BASE_URL" validate:"required,url"`
	Token   SecretString `envconfig:"DIRECTORY_TOKEN" validate:"required"`
}

// QueueConfig holds the fan-out and delivery-loop tunables. Batch size must
// stay small enough that one batch's sequential sends plus worst-case
// backoff complete well under the hosting environment's execution ceiling.
type QueueConfig struct {
	BatchSize     int           `envconfig:"QUEUE_BATCH_SIZE" default:"10" validate:"min=1"`
	MaxRecipients int           `envconfig:"QUEUE_MAX_RECIPIENTS" default:"5000" validate:"min=1"`
	SendDelay     time.Duration `envconfig:"QUEUE_SEND_DELAY" default:"120ms"`
	// Rate-limit retry: bounded exponential backoff starting at RetryBaseDelay,
	// doubling each attempt, at most RetryAttempts attempts.
	RetryAttempts  int           `envconfig:"QUEUE_RETRY_ATTEMPTS" default:"3" validate:"min=1"`
	RetryBaseDelay time.Duration `envconfig:"QUEUE_RETRY_BASE_DELAY" default:"1s"`
}

// AuthConfig holds the dashboard caller credential. The webhook endpoint is
// exempt from this check; it authenticates via the broker signature instead.
type AuthConfig struct {
	APIToken SecretString `envconfig:"API_TOKEN" validate:"required,min=16"`
}

// RateLimitConfig bounds job submissions per client.
type RateLimitConfig struct {
	SubmitLimit  int           `envconfig:"RATE_LIMIT_SUBMIT" default:"5"`
	SubmitWindow time.Duration `envconfig:"RATE_LIMIT_SUBMIT_WINDOW" default:"1h"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
