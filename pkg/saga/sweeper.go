package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

const (
	defaultSweepInterval   = 10 * time.Second
	defaultMaxRedispatches = 2
)

// SweeperConfig configures the timeout sweep.
type SweeperConfig struct {
	Interval        time.Duration
	MaxRedispatches int
}

// Sweeper periodically scans active sagas for steps that have not seen
// a response within their timeout. A stalled step is redispatched up to
// MaxRedispatches times; the budget is counted from SAGA_TIMEOUT_RETRY
// events so restarts do not reset it. Past the budget the saga is
// expired: forward sagas begin compensation, compensating sagas are
// marked COMPENSATION_FAILED.
type Sweeper struct {
	orchestrator *Orchestrator
	states       StateStore
	events       EventStore
	registry     *Registry
	log          logger.Logger
	clock        func() time.Time
	config       SweeperConfig
}

// NewSweeper creates a timeout sweeper.
func NewSweeper(
	orchestrator *Orchestrator,
	states StateStore,
	events EventStore,
	registry *Registry,
	config SweeperConfig,
	log logger.Logger,
) (*Sweeper, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if states == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if config.Interval <= 0 {
		config.Interval = defaultSweepInterval
	}
	if config.MaxRedispatches < 0 {
		config.MaxRedispatches = defaultMaxRedispatches
	}
	if log == nil {
		log = logger.Global()
	}

	return &Sweeper{
		orchestrator: orchestrator,
		states:       states,
		events:       events,
		registry:     registry,
		log:          log,
		clock:        func() time.Time { return time.Now().UTC() },
		config:       config,
	}, nil
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.ErrorContext(ctx, "timeout sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass over all active sagas.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ctx, span := sagaTracer().Start(ctx, spanSagaTimeoutSweep)
	defer span.End()

	active, err := s.states.FindByStatus(ctx, StatusStarted, StatusInProgress, StatusCompensating)
	if err != nil {
		return fmt.Errorf("find active sagas: %w", err)
	}

	for _, state := range active {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.sweepSaga(ctx, state); err != nil {
			s.log.ErrorContext(ctx, "sweep saga", "saga_id", state.ID, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) sweepSaga(ctx context.Context, state *SagaState) error {
	def, err := s.registry.Get(state.SagaType)
	if err != nil {
		return err
	}
	step, ok := def.Step(state.CurrentStepIndex)
	if !ok {
		return fmt.Errorf("saga %s current step %d out of range", state.ID, state.CurrentStepIndex)
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	if s.clock().Sub(state.UpdatedAt) <= timeout {
		return nil
	}

	redispatches, err := s.redispatchCount(ctx, state.ID, state.CurrentStepIndex)
	if err != nil {
		return err
	}

	if redispatches < s.config.MaxRedispatches {
		s.log.WarnContext(ctx, "saga step timed out, redispatching",
			"saga_id", state.ID,
			"step", step.Name,
			"redispatch", redispatches+1,
			"max_redispatches", s.config.MaxRedispatches,
		)
		return s.orchestrator.Redispatch(ctx, state.ID)
	}

	s.log.WarnContext(ctx, "saga step exceeded redispatch budget, expiring",
		"saga_id", state.ID,
		"step", step.Name,
		"status", state.Status,
	)
	return s.orchestrator.Expire(ctx, state.ID,
		fmt.Sprintf("step %s timed out after %d redispatches", step.Name, redispatches))
}

// redispatchCount counts timeout retries already recorded for the
// saga's current step.
func (s *Sweeper) redispatchCount(ctx context.Context, sagaID string, stepIndex int) (int, error) {
	events, err := s.events.Events(ctx, sagaID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, event := range events {
		if event.Type == EventTimeoutRetry && event.StepIndex == stepIndex {
			count++
		}
	}
	return count, nil
}
