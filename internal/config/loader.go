// loader.go implements the configuration loading lifecycle for the relay.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Check cross-group requirements the struct tags cannot express.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
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

// loaderDeps holds the injectable dependencies for the loader.
type loaderDeps struct {
	loadDotenv func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		// godotenv does NOT override variables already in the environment.
		loadDotenv: func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the relay configuration.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	if deps.loadDotenv != nil {
		_ = deps.loadDotenv()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkRequirements(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkRequirements enforces settings that only become mandatory once a
// particular driver or feature is selected.
func checkRequirements(cfg *Config) error {
	var missing []string

	if cfg.Feature.EnableChatPush && !cfg.Line.ChannelAccessToken.IsSet() {
		missing = append(missing, "LINE_CHANNEL_ACCESS_TOKEN")
	}
	if cfg.Broker.Driver == DriverAMQP && !cfg.Broker.URL.IsSet() && cfg.Broker.Host == "" {
		missing = append(missing, "RABBITMQ_HOST")
	}
	if cfg.Storage.Endpoint != "" {
		if cfg.Storage.AccessKey == "" {
			missing = append(missing, "MINIO_ACCESS_KEY")
		}
		if !cfg.Storage.SecretKey.IsSet() {
			missing = append(missing, "MINIO_SECRET_KEY")
		}
	}

	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("required for the selected configuration: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
