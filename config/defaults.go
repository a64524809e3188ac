package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sagaflow",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Saga: SagaConfig{
			ResponseTopic:   "saga.responses",
			ConsumerGroup:   "sagaflow-orchestrator",
			ConflictRetries: 3,
			Compensation: CompensationConfig{
				MaxRetries:     3,
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     5 * time.Second,
				BackoffFactor:  2.0,
			},
			Sweeper: SweeperConfig{
				Interval:        10 * time.Second,
				MaxRedispatches: 2,
			},
			Listener: ListenerConfig{
				MaxAttempts: 5,
				RetryDelay:  500 * time.Millisecond,
			},
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			MinBytes:     1,
			MaxBytes:     10 * 1024 * 1024, // 10MB
			MaxWait:      500 * time.Millisecond,
			Retry: KafkaRetryConfig{
				MaxRetries:     3,
				InitialBackoff: 50 * time.Millisecond,
				MaxBackoff:     2 * time.Second,
				BackoffFactor:  2.0,
			},
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1073741824, // 1GB
				NumVersionsToKeep: 1,
			},
		},
		Redis: RedisConfig{
			Enabled:          false,
			Address:          "localhost:6379",
			Password:         "",
			DB:               0,
			ChannelPrefix:    "saga:events:",
			SubscriberBuffer: 16,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
