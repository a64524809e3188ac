// Package config provides configuration management for Sagaflow.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Sagaflow.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Saga is the orchestration configuration.
	Saga SagaConfig `mapstructure:"saga"`

	// Kafka is the command/response transport configuration.
	Kafka KafkaConfig `mapstructure:"kafka"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Redis is the cross-node stream bus configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// SagaConfig holds orchestration engine settings.
type SagaConfig struct {
	// ResponseTopic is the shared topic participants reply on.
	ResponseTopic string `mapstructure:"response_topic" validate:"required"`

	// ConsumerGroup is the consumer group id for the response listener.
	ConsumerGroup string `mapstructure:"consumer_group" validate:"required"`

	// ConflictRetries bounds optimistic save retries per response.
	ConflictRetries int `mapstructure:"conflict_retries" validate:"min=0"`

	// Compensation is the compensation retry policy.
	Compensation CompensationConfig `mapstructure:"compensation"`

	// Sweeper is the timeout sweeper configuration.
	Sweeper SweeperConfig `mapstructure:"sweeper"`

	// Listener is the response listener configuration.
	Listener ListenerConfig `mapstructure:"listener"`

	// Definitions declares the saga types this node orchestrates.
	Definitions []DefinitionConfig `mapstructure:"definitions" validate:"dive"`
}

// DefinitionConfig declares one saga type and its ordered steps.
type DefinitionConfig struct {
	// SagaType is the saga type name.
	SagaType string `mapstructure:"saga_type" validate:"required"`

	// ResponseTopic overrides the shared response topic for this type.
	ResponseTopic string `mapstructure:"response_topic"`

	// Steps are the ordered steps of the saga.
	Steps []StepConfig `mapstructure:"steps" validate:"required,min=1,dive"`
}

// StepConfig declares one saga step.
type StepConfig struct {
	// Name is the step name, unique within the saga type.
	Name string `mapstructure:"name" validate:"required"`

	// CommandTopic is the topic step commands are published to.
	CommandTopic string `mapstructure:"command_topic" validate:"required"`

	// CompensationTopic overrides the topic compensation commands go
	// to. Defaults to the command topic.
	CompensationTopic string `mapstructure:"compensation_topic"`

	// NoCompensation marks the step as not compensatable.
	NoCompensation bool `mapstructure:"no_compensation"`

	// Timeout is the per-step response timeout.
	Timeout time.Duration `mapstructure:"timeout"`
}

// CompensationConfig holds compensation retry settings.
type CompensationConfig struct {
	// MaxRetries is the attempt budget per compensation step.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffFactor is the multiplier applied per attempt.
	BackoffFactor float64 `mapstructure:"backoff_factor" validate:"min=1"`
}

// SweeperConfig holds timeout sweeper settings.
type SweeperConfig struct {
	// Interval is how often stalled sagas are scanned for.
	Interval time.Duration `mapstructure:"interval"`

	// MaxRedispatches is the redispatch budget per stalled step.
	MaxRedispatches int `mapstructure:"max_redispatches" validate:"min=0"`
}

// ListenerConfig holds response listener settings.
type ListenerConfig struct {
	// MaxAttempts is how often a failing response is retried before
	// being skipped.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// RetryDelay is the pause between processing attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// KafkaConfig holds Kafka transport settings.
type KafkaConfig struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string `mapstructure:"brokers" validate:"required,min=1"`

	// BatchTimeout is how long the producer waits to fill a batch.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// WriteTimeout bounds a single produce call.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// MinBytes is the consumer fetch minimum.
	MinBytes int `mapstructure:"min_bytes" validate:"min=0"`

	// MaxBytes is the consumer fetch maximum.
	MaxBytes int `mapstructure:"max_bytes" validate:"min=0"`

	// MaxWait is the longest a fetch blocks waiting for MinBytes.
	MaxWait time.Duration `mapstructure:"max_wait"`

	// Retry is the producer retry policy.
	Retry KafkaRetryConfig `mapstructure:"retry"`
}

// KafkaRetryConfig holds producer retry settings.
type KafkaRetryConfig struct {
	// MaxRetries is the retry budget per dispatch.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffFactor is the multiplier applied per attempt.
	BackoffFactor float64 `mapstructure:"backoff_factor" validate:"min=1"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// RedisConfig holds Redis stream bus settings.
type RedisConfig struct {
	// Enabled enables cross-node stream fan-out via Redis pub/sub.
	Enabled bool `mapstructure:"enabled"`

	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`

	// ChannelPrefix prefixes the per-saga pub/sub channel names.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// SubscriberBuffer is the per-subscription channel buffer.
	SubscriberBuffer int `mapstructure:"subscriber_buffer" validate:"min=0"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter kind (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single export call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the sampling strategy (ratio, always_on, always_off).
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=ratio parentbased_traceidratio always_on always_off"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s}",
		c.App.Name, c.Server.Port, c.App.Environment)
}
