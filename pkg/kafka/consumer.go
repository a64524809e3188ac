package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// ConsumerConfig configures the response-topic consumer group.
type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration
}

// Consumer implements saga.MessageSource over a kafka-go consumer
// group reader. Offsets are committed explicitly after the listener
// resolves each message, so a crash between fetch and commit
// re-delivers rather than loses responses.
type Consumer struct {
	reader *kafkago.Reader
}

// NewConsumer creates a response-topic consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("response topic cannot be empty")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("consumer group id cannot be empty")
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafkago.FirstOffset,
	})
	return &Consumer{reader: reader}, nil
}

// Fetch blocks until the next response message arrives.
func (c *Consumer) Fetch(ctx context.Context) (saga.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return saga.Message{}, err
	}
	return saga.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

// Commit marks the message processed in the consumer group.
func (c *Consumer) Commit(ctx context.Context, msg saga.Message) error {
	return c.reader.CommitMessages(ctx, kafkago.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
