// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging. It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the mailfan configuration from the process
// environment (optionally seeded from a .env file). It fails fast: any
// missing required value or malformed setting is returned as a ConfigError
// rather than deferred to first use.
func LoadConfig() (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent). godotenv does NOT
	// override existing environment variables.
	_ = godotenv.Load()

	// Step 3: Process envconfig tags into the Config struct.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Validate the populated struct.
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig runs struct validation rules against the populated config.
func validateConfig(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("invalid configuration: %v", fields),
				Err:     err,
			}
		}
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// The next signing key is optional, but when set it must differ from the
	// current key; an identical pair silently disables rotation.
	if cfg.Broker.NextSigningKey != "" && cfg.Broker.NextSigningKey == cfg.Broker.SigningKey {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "BROKER_NEXT_SIGNING_KEY must differ from BROKER_SIGNING_KEY",
		}
	}

	return nil
}
