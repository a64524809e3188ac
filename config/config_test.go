package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "sagaflow" {
		t.Errorf("expected app name 'sagaflow', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Log.Format)
	}

	if cfg.Saga.ResponseTopic != "saga.responses" {
		t.Errorf("expected response topic 'saga.responses', got %s", cfg.Saga.ResponseTopic)
	}
	if cfg.Saga.ConsumerGroup != "sagaflow-orchestrator" {
		t.Errorf("expected consumer group 'sagaflow-orchestrator', got %s", cfg.Saga.ConsumerGroup)
	}
	if cfg.Saga.Compensation.MaxRetries != 3 {
		t.Errorf("expected compensation max_retries 3, got %d", cfg.Saga.Compensation.MaxRetries)
	}
	if cfg.Saga.Sweeper.Interval != 10*time.Second {
		t.Errorf("expected sweeper interval 10s, got %v", cfg.Saga.Sweeper.Interval)
	}

	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("expected default broker localhost:9092, got %v", cfg.Kafka.Brokers)
	}

	if cfg.Storage.Type != "badger" {
		t.Errorf("expected storage type 'badger', got %s", cfg.Storage.Type)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "missing app name",
			mutate:  func(cfg *Config) { cfg.App.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid port",
			mutate:  func(cfg *Config) { cfg.Server.Port = 99999 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(cfg *Config) { cfg.Log.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "invalid environment",
			mutate:  func(cfg *Config) { cfg.App.Environment = "invalid" },
			wantErr: true,
		},
		{
			name:    "missing response topic",
			mutate:  func(cfg *Config) { cfg.Saga.ResponseTopic = "" },
			wantErr: true,
		},
		{
			name:    "missing kafka brokers",
			mutate:  func(cfg *Config) { cfg.Kafka.Brokers = nil },
			wantErr: true,
		},
		{
			name:    "invalid storage type",
			mutate:  func(cfg *Config) { cfg.Storage.Type = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid sample rate",
			mutate:  func(cfg *Config) { cfg.Tracing.SampleRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "negative compensation retries",
			mutate:  func(cfg *Config) { cfg.Saga.Compensation.MaxRetries = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "server.port", Message: "must be between 1 and 65535", Value: 99999},
		{Field: "log.level", Message: "must be one of [debug info warn error]", Value: "trace"},
	}

	errMsg := errs.Error()
	if errMsg == "" {
		t.Error("expected error message")
	}

	if errMsg == "no validation errors" {
		t.Error("expected error details")
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		App: AppConfig{
			Name:        "test",
			Environment: "development",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}

	s := cfg.String()
	if s == "" {
		t.Error("expected non-empty string representation")
	}
}

func TestDurationParsing(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.Server.HTTP.ReadTimeout)
	}

	if cfg.Saga.Listener.RetryDelay != 500*time.Millisecond {
		t.Errorf("expected listener retry delay 500ms, got %v", cfg.Saga.Listener.RetryDelay)
	}
}

func TestLoader_Get(t *testing.T) {
	loader := NewLoader()
	_, _ = loader.Load("", nil) // Load defaults

	val := loader.Get("app.name")
	if val == nil {
		t.Error("expected non-nil value for app.name")
	}

	str := loader.GetString("app.name")
	if str != "sagaflow" {
		t.Errorf("expected 'sagaflow', got '%s'", str)
	}

	port := loader.GetInt("server.port")
	if port != 8080 {
		t.Errorf("expected 8080, got %d", port)
	}

	enabled := loader.GetBool("metrics.enabled")
	if !enabled {
		t.Error("expected metrics.enabled to be true")
	}
}

func TestLoader_Set(t *testing.T) {
	loader := NewLoader()
	_, _ = loader.Load("", nil)

	err := loader.Set("app.name", "custom-app")
	if err != nil {
		t.Errorf("unexpected error setting value: %v", err)
	}

	if loader.GetString("app.name") != "custom-app" {
		t.Errorf("expected 'custom-app', got '%s'", loader.GetString("app.name"))
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoadOrDie_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for invalid config file")
		}
	}()

	LoadOrDie("/nonexistent/path/config.yaml", nil)
}

func TestLoader_LoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: yaml-test
  environment: production
server:
  port: 9999
log:
  level: debug
  format: text
saga:
  response_topic: orders.responses
  consumer_group: orders-orchestrator
  conflict_retries: 5
  compensation:
    max_retries: 5
    initial_backoff: 200ms
    max_backoff: 2s
    backoff_factor: 1.8
  sweeper:
    interval: 30s
    max_redispatches: 1
kafka:
  brokers:
    - broker-1:9092
    - broker-2:9092
storage:
  type: memory
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "yaml-test" {
		t.Errorf("expected 'yaml-test', got '%s'", cfg.App.Name)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected 9999, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected 'debug', got '%s'", cfg.Log.Level)
	}
	if cfg.Saga.ResponseTopic != "orders.responses" {
		t.Errorf("expected 'orders.responses', got '%s'", cfg.Saga.ResponseTopic)
	}
	if cfg.Saga.ConflictRetries != 5 {
		t.Errorf("expected conflict_retries 5, got %d", cfg.Saga.ConflictRetries)
	}
	if cfg.Saga.Compensation.BackoffFactor != 1.8 {
		t.Errorf("expected backoff_factor 1.8, got %v", cfg.Saga.Compensation.BackoffFactor)
	}
	if cfg.Saga.Sweeper.MaxRedispatches != 1 {
		t.Errorf("expected max_redispatches 1, got %d", cfg.Saga.Sweeper.MaxRedispatches)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected storage type 'memory', got '%s'", cfg.Storage.Type)
	}
}

func TestLoader_SagaDefinitions(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
saga:
  definitions:
    - saga_type: ORDER_CREATE
      steps:
        - name: reserve-stock
          command_topic: stock.commands
          timeout: 10s
        - name: charge-payment
          command_topic: payment.commands
          compensation_topic: payment.refunds
        - name: send-receipt
          command_topic: notify.commands
          no_compensation: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Saga.Definitions) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(cfg.Saga.Definitions))
	}
	def := cfg.Saga.Definitions[0]
	if def.SagaType != "ORDER_CREATE" {
		t.Errorf("expected saga type ORDER_CREATE, got %s", def.SagaType)
	}
	if len(def.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(def.Steps))
	}
	if def.Steps[0].Timeout != 10*time.Second {
		t.Errorf("expected step timeout 10s, got %v", def.Steps[0].Timeout)
	}
	if def.Steps[1].CompensationTopic != "payment.refunds" {
		t.Errorf("expected compensation topic, got %s", def.Steps[1].CompensationTopic)
	}
	if !def.Steps[2].NoCompensation {
		t.Error("expected no_compensation on final step")
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	jsonContent := `{
		"app": {
			"name": "json-test",
			"environment": "staging"
		},
		"server": {
			"port": 8888
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`
	if err := os.WriteFile(configPath, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "json-test" {
		t.Errorf("expected 'json-test', got '%s'", cfg.App.Name)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("expected 8888, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected 'warn', got '%s'", cfg.Log.Level)
	}
}

func TestLoader_LoadInvalidFile(t *testing.T) {
	loader := NewLoader()

	_, err := loader.Load("/nonexistent/config.yaml", nil)
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoader_LoadUnsupportedFormat(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("app = 'test'"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	_, err := loader.Load(configPath, nil)
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoader_EnvVars(t *testing.T) {
	t.Setenv("SAGAFLOW_APP_NAME", "env-test")
	t.Setenv("SAGAFLOW_SERVER_PORT", "7777")
	t.Setenv("SAGAFLOW_LOG_LEVEL", "error")

	loader := NewLoader()
	cfg, err := loader.Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "env-test" {
		t.Errorf("expected 'env-test', got '%s'", cfg.App.Name)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected 7777, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected 'error', got '%s'", cfg.Log.Level)
	}
}

func TestLoader_Overrides(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load("", map[string]interface{}{
		"server.port": 6060,
		"log.level":   "debug",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6060 {
		t.Errorf("expected override port 6060, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected override log level 'debug', got '%s'", cfg.Log.Level)
	}
}
