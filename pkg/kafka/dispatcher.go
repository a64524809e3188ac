// Package kafka provides the broker transport for the saga core: a
// command dispatcher writing to per-step topics and a consumer group
// reader over the shared response topic. Messages are keyed by saga id
// so all traffic for one saga lands on one partition and stays ordered.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

// RetryConfig controls retry/backoff behavior for dispatch attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default dispatch retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2,
	}
}

// DispatcherConfig configures the command dispatcher.
type DispatcherConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Retry        RetryConfig
}

// messageWriter abstracts kafka-go's Writer for tests.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Dispatcher implements saga.CommandDispatcher over a shared kafka-go
// writer. The Hash balancer plus saga-id keys keep per-saga ordering.
type Dispatcher struct {
	writer messageWriter
	retry  RetryConfig
	log    logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(cfg DispatcherConfig, log logger.Logger) (*Dispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.MaxRetries < 0 || cfg.Retry.InitialBackoff <= 0 ||
		cfg.Retry.MaxBackoff <= 0 || cfg.Retry.BackoffFactor < 1 {
		return nil, fmt.Errorf("invalid dispatch retry config")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Global()
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// Topic set per message; one writer serves every command topic.
	}

	return &Dispatcher{
		writer: writer,
		retry:  cfg.Retry,
		log:    log,
	}, nil
}

// Dispatch publishes one command to the given topic, keyed by saga id,
// retrying with backoff on transient failures.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, command saga.Command) error {
	if topic == "" {
		return fmt.Errorf("dispatch topic cannot be empty")
	}
	if command.SagaID == "" {
		return fmt.Errorf("dispatch command saga id cannot be empty")
	}

	value, err := command.Encode()
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(command.SagaID),
		Value: value,
	}

	backoff := d.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= d.retry.MaxRetries; attempt++ {
		lastErr = d.writer.WriteMessages(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if attempt == d.retry.MaxRetries {
			break
		}

		d.log.WarnContext(ctx, "command publish failed, retrying",
			"topic", topic,
			"saga_id", command.SagaID,
			"attempt", attempt+1,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * d.retry.BackoffFactor)
		if backoff > d.retry.MaxBackoff {
			backoff = d.retry.MaxBackoff
		}
	}

	return fmt.Errorf("publish command to %s after %d attempts: %w", topic, d.retry.MaxRetries+1, lastErr)
}

// Close flushes and closes the underlying writer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.writer.Close()
}
