// Package config defines the configuration of the notification relay.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
//
// A missing required value or an invalid format aborts startup.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"notifyrelay/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Queue driver names.
const (
	DriverAMQP = "amqp"
	DriverSQS  = "sqs"
)

// Realtime fan-out modes.
const (
	RealtimeLocal = "local"
	RealtimeRedis = "redis"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// Config is the top-level configuration struct for the relay.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"notify-relay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Broker        BrokerConfig
	AWS           AWSConfig
	Line          LineConfig
	Storage       StorageConfig
	Realtime      RealtimeConfig
	Database      DatabaseConfig
	Delivery      DeliveryConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	Feature       FeatureConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the HTTP listener serving /ws, /health and /metrics.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080" validate:"numeric"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// BrokerConfig selects the queue driver and names the queues consumed.
type BrokerConfig struct {
	Driver string `envconfig:"QUEUE_DRIVER" default:"amqp" validate:"oneof=amqp sqs"`

	// URL overrides the discrete RabbitMQ settings below when set.
	URL      SecretString `envconfig:"RABBITMQ_URL"`
	Host     string       `envconfig:"RABBITMQ_HOST" default:"rabbitmq"`
	Port     int          `envconfig:"RABBITMQ_PORT" default:"5672" validate:"min=1,max=65535"`
	User     string       `envconfig:"RABBITMQ_USER" default:"guest"`
	Password SecretString `envconfig:"RABBITMQ_PASSWORD" default:"guest"`
	VHost    string       `envconfig:"RABBITMQ_VHOST" default:"/"`

	NotificationQueue string `envconfig:"RABBITMQ_NOTIFICATION_QUEUE" default:"notifications_queue" validate:"required"`
	AlertQueue        string `envconfig:"RABBITMQ_ALERT_QUEUE" default:"alert_queue"`

	// Workers bounds concurrent handlers per queue. 1 keeps consumption serial.
	Workers          int           `envconfig:"CONSUMER_WORKERS" default:"1" validate:"min=1,max=64"`
	ReconnectBackoff time.Duration `envconfig:"RECONNECT_BACKOFF" default:"5s" validate:"gt=0"`
	Heartbeat        time.Duration `envconfig:"RABBITMQ_HEARTBEAT" default:"10s"`

	// SQS only
	WaitTime          time.Duration `envconfig:"SQS_WAIT_TIME" default:"20s" validate:"max=20s"`
	VisibilityTimeout time.Duration `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60s"`
}

// AMQPURL returns the broker URL, assembling it from the discrete settings
// when RABBITMQ_URL is not set.
func (b BrokerConfig) AMQPURL() string {
	if b.URL.IsSet() {
		return b.URL.Unmask()
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.User, b.Password.Unmask()),
		Host:   net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
		Path:   "/" + url.PathEscape(trimLeadingSlash(b.VHost)),
	}
	if b.VHost == "/" || b.VHost == "" {
		u.Path = "/"
	}
	return u.String()
}

// Address is the broker endpoint without credentials, for logging.
func (b BrokerConfig) Address() string {
	if b.URL.IsSet() {
		if u, err := url.Parse(b.URL.Unmask()); err == nil {
			return u.Host
		}
		return "configured-url"
	}
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}

// AWSConfig holds regional configuration shared by the SQS, S3 and
// CloudWatch clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// LineConfig holds the LINE Messaging API credentials.
type LineConfig struct {
	ChannelAccessToken SecretString  `envconfig:"LINE_CHANNEL_ACCESS_TOKEN"`
	BaseURL            string        `envconfig:"LINE_API_BASE_URL" default:"https://api.line.me" validate:"url"`
	Timeout            time.Duration `envconfig:"LINE_TIMEOUT" default:"10s"`
	MaxRetries         int           `envconfig:"LINE_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	UserAgent          string        `envconfig:"LINE_USER_AGENT" default:"NotifyRelay/1.0"`
}

// StorageConfig points at the MinIO/S3 bucket that holds synthesized audio.
type StorageConfig struct {
	Endpoint  string        `envconfig:"MINIO_ENDPOINT"`
	AccessKey string        `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey SecretString  `envconfig:"MINIO_SECRET_KEY"`
	Secure    bool          `envconfig:"MINIO_SECURE" default:"true"`
	Bucket    string        `envconfig:"MINIO_BUCKET" default:"audio"`
	Region    string        `envconfig:"MINIO_REGION" default:"us-east-1"`
	URLTTL    time.Duration `envconfig:"AUDIO_URL_TTL" default:"1h" validate:"gt=0,max=168h"`
}

// EndpointURL returns the storage endpoint with scheme, or "" when unset.
func (s StorageConfig) EndpointURL() string {
	if s.Endpoint == "" {
		return ""
	}
	if u, err := url.Parse(s.Endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return s.Endpoint
	}
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Endpoint)
}

// RealtimeConfig controls how broadcasts reach websocket sessions.
// In redis mode every relay instance publishes to a channel and each
// instance's bridge feeds its own sessions.
type RealtimeConfig struct {
	Mode         string        `envconfig:"REALTIME_MODE" default:"local" validate:"oneof=local redis"`
	RedisURL     SecretString  `envconfig:"REDIS_URL" validate:"required_if=Mode redis"`
	Channel      string        `envconfig:"REALTIME_CHANNEL" default:"notify-relay:broadcast"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	SendBuffer   int           `envconfig:"WS_SEND_BUFFER" default:"16" validate:"min=1"`
}

// DatabaseConfig holds the optional PostgreSQL connection used for alerts and
// dead letters. Without a URL those records are only logged.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// DeliveryConfig tunes per-message delivery.
type DeliveryConfig struct {
	AudioFallbackDuration time.Duration `envconfig:"AUDIO_FALLBACK_DURATION" default:"60s" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"NotifyRelay"`
}

// SecurityConfig holds CORS settings for the websocket and health endpoints.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// FeatureConfig holds kill switches.
type FeatureConfig struct {
	EnableChatPush bool `envconfig:"FEATURE_ENABLE_CHAT_PUSH" default:"true"`
	EnableAlerts   bool `envconfig:"FEATURE_ENABLE_ALERTS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a value required by the selected features was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
