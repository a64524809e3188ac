package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// Message is one raw record fetched from the response topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// MessageSource abstracts the response-topic consumer. Fetch blocks
// until a message arrives or ctx is done; Commit marks the message
// processed so it is not redelivered after a restart.
type MessageSource interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
}

// ResponseHandler applies a decoded step response. Implemented by the
// orchestrator.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, resp ResponseEvent) error
}

const (
	defaultListenerMaxAttempts = 5
	listenerRetryDelay         = 500 * time.Millisecond
)

// ListenerOption customizes Listener initialization.
type ListenerOption func(l *Listener)

// WithListenerMaxAttempts bounds handler attempts per message before it
// is skipped.
func WithListenerMaxAttempts(attempts int) ListenerOption {
	return func(l *Listener) {
		if attempts > 0 {
			l.maxAttempts = attempts
		}
	}
}

// WithListenerMetrics wires a metrics recorder into the listener.
func WithListenerMetrics(metrics MetricsRecorder) ListenerOption {
	return func(l *Listener) {
		if metrics != nil {
			l.metrics = metrics
		}
	}
}

// WithListenerLogger sets the listener logger.
func WithListenerLogger(log logger.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithListenerRetryDelay sets the delay between handler attempts.
func WithListenerRetryDelay(delay time.Duration) ListenerOption {
	return func(l *Listener) {
		if delay >= 0 {
			l.retryDelay = delay
		}
	}
}

// Listener is the single consumer loop over the shared response topic.
// It decodes responses, hands them to the orchestrator, and commits
// each message exactly once it is resolved. Undecodable, unknown-saga,
// terminal-saga and stale-step messages are dropped with a warning; a
// message whose handler keeps failing is skipped after maxAttempts so
// one poison message cannot block its partition.
type Listener struct {
	source      MessageSource
	handler     ResponseHandler
	log         logger.Logger
	metrics     MetricsRecorder
	maxAttempts int
	retryDelay  time.Duration
}

// NewListener creates a response listener.
func NewListener(source MessageSource, handler ResponseHandler, options ...ListenerOption) (*Listener, error) {
	if source == nil {
		return nil, fmt.Errorf("message source cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("response handler cannot be nil")
	}

	l := &Listener{
		source:      source,
		handler:     handler,
		log:         logger.Global(),
		metrics:     &nopMetricsRecorder{},
		maxAttempts: defaultListenerMaxAttempts,
		retryDelay:  listenerRetryDelay,
	}
	for _, option := range options {
		if option != nil {
			option(l)
		}
	}
	return l, nil
}

// Run consumes responses until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	for {
		msg, err := l.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.ErrorContext(ctx, "fetch response message", "error", err)
			if err := sleepBackoff(ctx, l.retryDelay); err != nil {
				return err
			}
			continue
		}

		if err := l.process(ctx, msg); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (l *Listener) process(ctx context.Context, msg Message) error {
	resp, err := DecodeResponse(msg.Value)
	if err != nil {
		l.log.WarnContext(ctx, "dropping undecodable response",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		l.metrics.RecordListenerDrop("decode")
		return l.commit(ctx, msg)
	}

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err := l.handler.HandleResponse(ctx, resp)
		switch {
		case err == nil:
			return l.commit(ctx, msg)
		case errors.Is(err, ErrSagaNotFound):
			l.log.WarnContext(ctx, "dropping response for unknown saga", "saga_id", resp.SagaID, "error", err)
			l.metrics.RecordListenerDrop("unknown_saga")
			return l.commit(ctx, msg)
		case errors.Is(err, ErrSagaTerminal):
			l.log.WarnContext(ctx, "dropping response for finished saga", "saga_id", resp.SagaID, "error", err)
			l.metrics.RecordListenerDrop("terminal")
			return l.commit(ctx, msg)
		case errors.Is(err, ErrStaleStep):
			l.log.WarnContext(ctx, "dropping stale step response",
				"saga_id", resp.SagaID, "step_index", resp.StepIndex, "error", err)
			l.metrics.RecordListenerDrop("stale_step")
			return l.commit(ctx, msg)
		}

		lastErr = err
		l.log.ErrorContext(ctx, "response handling failed",
			"saga_id", resp.SagaID,
			"attempt", attempt,
			"max_attempts", l.maxAttempts,
			"error", err,
		)
		if attempt < l.maxAttempts {
			if err := sleepBackoff(ctx, l.retryDelay); err != nil {
				return err
			}
		}
	}

	l.log.ErrorContext(ctx, "skipping poison response message",
		"saga_id", resp.SagaID,
		"topic", msg.Topic,
		"offset", msg.Offset,
		"error", lastErr,
	)
	l.metrics.RecordListenerDrop("poison")
	return l.commit(ctx, msg)
}

func (l *Listener) commit(ctx context.Context, msg Message) error {
	if err := l.source.Commit(ctx, msg); err != nil {
		l.log.ErrorContext(ctx, "commit response message",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return err
	}
	return nil
}
