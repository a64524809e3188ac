package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// ErrSagaTerminal is returned for responses addressed to a finished saga.
var ErrSagaTerminal = errors.New("saga is in a terminal status")

// ErrStaleStep is returned for responses whose step index does not match
// the saga's current step. Stale responses are dropped before any event
// is appended.
var ErrStaleStep = errors.New("response step does not match current step")

// CommandDispatcher sends step and compensation commands to their topics.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, topic string, command Command) error
}

// Notifier receives best-effort saga progress notifications after each
// committed transition. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, state *SagaState, event Event)
}

// CompensationRetryConfig controls retry behavior when a compensation
// command itself fails.
type CompensationRetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultCompensationRetry returns the default compensation retry policy.
func DefaultCompensationRetry() CompensationRetryConfig {
	return CompensationRetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

const defaultConflictRetries = 3

// OrchestratorOption customizes Orchestrator initialization.
type OrchestratorOption func(o *Orchestrator)

// WithMetrics wires a metrics recorder into the orchestrator.
func WithMetrics(metrics MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithNotifier wires a progress notifier into the orchestrator.
func WithNotifier(notifier Notifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.notifier = notifier
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithConflictRetries bounds version-conflict retries per transition.
func WithConflictRetries(retries int) OrchestratorOption {
	return func(o *Orchestrator) {
		if retries >= 0 {
			o.conflictRetries = retries
		}
	}
}

// WithCompensationRetry configures compensation retry behavior.
func WithCompensationRetry(cfg CompensationRetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.compensationRetry = cfg
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(log logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// Orchestrator drives saga executions: it starts sagas, applies step
// responses, and walks compensation in reverse order. Every transition
// appends exactly one set of events, saves the state snapshot with an
// optimistic version check, and dispatches at most one command.
type Orchestrator struct {
	registry          *Registry
	events            EventStore
	states            StateStore
	dispatcher        CommandDispatcher
	notifier          Notifier
	metrics           MetricsRecorder
	log               logger.Logger
	clock             func() time.Time
	conflictRetries   int
	compensationRetry CompensationRetryConfig
}

// NewOrchestrator creates an orchestrator over the given registry,
// stores and dispatcher.
func NewOrchestrator(
	registry *Registry,
	events EventStore,
	states StateStore,
	dispatcher CommandDispatcher,
	options ...OrchestratorOption,
) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	if states == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}

	o := &Orchestrator{
		registry:          registry,
		events:            events,
		states:            states,
		dispatcher:        dispatcher,
		metrics:           &nopMetricsRecorder{},
		log:               logger.Global(),
		clock:             func() time.Time { return time.Now().UTC() },
		conflictRetries:   defaultConflictRetries,
		compensationRetry: DefaultCompensationRetry(),
	}
	for _, option := range options {
		if option != nil {
			option(o)
		}
	}
	return o, nil
}

// Start begins a new saga execution of the given type: it creates the
// state snapshot, records SAGA_STARTED, and dispatches the first step
// command. A dispatch failure marks the saga FAILED and is returned.
func (o *Orchestrator) Start(ctx context.Context, sagaType string, payload map[string]any) (*SagaState, error) {
	ctx, span := sagaTracer().Start(ctx, spanSagaStart,
		trace.WithAttributes(attribute.String("saga.type", sagaType)))
	defer span.End()

	def, err := o.registry.Get(sagaType)
	if err != nil {
		return nil, err
	}
	firstStep, _ := def.Step(0)

	state := NewSagaState(uuid.NewString(), sagaType, copyDataMap(payload))
	state.CurrentStepName = firstStep.Name
	if err := o.states.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("create saga state: %w", err)
	}
	span.SetAttributes(attribute.String("saga.id", state.ID))

	started, err := o.append(ctx, AppendInput{
		SagaID:   state.ID,
		Type:     EventSagaStarted,
		StepName: firstStep.Name,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}
	o.metrics.IncActiveSagas()
	o.metrics.RecordSagaExecution("started")
	o.notify(ctx, state, started)

	stepStarted, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventStepStarted,
		StepIndex: firstStep.Index,
		StepName:  firstStep.Name,
	})
	if err != nil {
		return nil, err
	}

	if err := state.TransitionTo(StatusInProgress, o.clock()); err != nil {
		return nil, err
	}
	if err := o.states.Save(ctx, state, state.Version); err != nil {
		return nil, fmt.Errorf("save saga state: %w", err)
	}
	o.notify(ctx, state, stepStarted)

	if err := o.dispatch(ctx, def, state, firstStep, false); err != nil {
		o.failStart(ctx, state, firstStep, err)
		return nil, fmt.Errorf("dispatch first step: %w", err)
	}

	o.log.InfoContext(ctx, "saga started",
		"saga_id", state.ID,
		"saga_type", sagaType,
		"first_step", firstStep.Name,
	)
	return cloneState(state), nil
}

// failStart marks a saga FAILED after its first dispatch failed. The
// state row stays durable for audit; the caller gets the error.
func (o *Orchestrator) failStart(ctx context.Context, state *SagaState, step SagaStep, cause error) {
	failed, appendErr := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventSagaFailed,
		StepIndex: step.Index,
		StepName:  step.Name,
		Reason:    cause.Error(),
	})
	if appendErr != nil {
		o.log.ErrorContext(ctx, "append saga failed event", "saga_id", state.ID, "error", appendErr)
	}

	state.SetFailure(step.Index, cause.Error())
	if err := state.TransitionTo(StatusFailed, o.clock()); err == nil {
		if saveErr := o.states.Save(ctx, state, state.Version); saveErr != nil {
			o.log.ErrorContext(ctx, "save failed saga state", "saga_id", state.ID, "error", saveErr)
		}
	}
	o.metrics.DecActiveSagas()
	o.metrics.RecordSagaExecution("failed")
	o.notify(ctx, state, failed)
}

// HandleResponse applies one step response, routing by the saga's
// current status: COMPENSATING sagas take the compensation path, all
// other active sagas the forward path.
func (o *Orchestrator) HandleResponse(ctx context.Context, resp ResponseEvent) error {
	state, err := o.states.Get(ctx, resp.SagaID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("%w: saga %s is %s", ErrSagaTerminal, state.ID, state.Status)
	}

	def, err := o.registry.Get(state.SagaType)
	if err != nil {
		return err
	}

	if state.Status == StatusCompensating {
		return o.handleCompensationResponse(ctx, def, state, resp)
	}
	return o.handleStepResponse(ctx, def, state, resp)
}

func (o *Orchestrator) handleStepResponse(ctx context.Context, def *SagaDefinition, state *SagaState, resp ResponseEvent) error {
	ctx, span := sagaTracer().Start(ctx, spanSagaStepResponse, trace.WithAttributes(
		attribute.String("saga.id", state.ID),
		attribute.Int("saga.step", resp.StepIndex),
		attribute.Bool("saga.step.success", resp.Success),
	))
	defer span.End()

	if resp.Compensation || resp.StepIndex != state.CurrentStepIndex {
		o.metrics.RecordStaleResponse()
		return fmt.Errorf("%w: saga %s at step %d, response for step %d",
			ErrStaleStep, state.ID, state.CurrentStepIndex, resp.StepIndex)
	}

	if !resp.Success {
		return o.beginCompensation(ctx, def, state, resp.StepIndex, resp.Reason)
	}

	step, _ := def.Step(resp.StepIndex)
	completed, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventStepCompleted,
		StepIndex: step.Index,
		StepName:  step.Name,
		Payload:   resp.Payload,
	})
	if err != nil {
		return err
	}

	lastStep := resp.StepIndex == def.TotalSteps()-1
	if lastStep {
		sagaCompleted, err := o.append(ctx, AppendInput{
			SagaID:    state.ID,
			Type:      EventSagaCompleted,
			StepIndex: step.Index,
			StepName:  step.Name,
		})
		if err != nil {
			return err
		}

		err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
			if st.Status != StatusInProgress || st.CurrentStepIndex != resp.StepIndex {
				return fmt.Errorf("%w: saga %s moved during completion", ErrStaleStep, st.ID)
			}
			st.MergeData(resp.Payload)
			return st.TransitionTo(StatusCompleted, o.clock())
		})
		if err != nil {
			return err
		}

		o.metrics.DecActiveSagas()
		o.metrics.RecordSagaExecution("completed")
		o.metrics.RecordSagaDuration("completed", o.clock().Sub(state.CreatedAt))
		o.notify(ctx, state, completed)
		o.notify(ctx, state, sagaCompleted)
		o.log.InfoContext(ctx, "saga completed", "saga_id", state.ID, "saga_type", state.SagaType)
		return nil
	}

	nextStep, _ := def.Step(resp.StepIndex + 1)
	stepStarted, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventStepStarted,
		StepIndex: nextStep.Index,
		StepName:  nextStep.Name,
	})
	if err != nil {
		return err
	}

	err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
		if st.Status != StatusInProgress || st.CurrentStepIndex != resp.StepIndex {
			return fmt.Errorf("%w: saga %s moved during step advance", ErrStaleStep, st.ID)
		}
		st.MergeData(resp.Payload)
		st.CurrentStepIndex = nextStep.Index
		st.CurrentStepName = nextStep.Name
		return st.TransitionTo(StatusInProgress, o.clock())
	})
	if err != nil {
		return err
	}

	o.notify(ctx, state, completed)
	o.notify(ctx, state, stepStarted)

	if err := o.dispatch(ctx, def, state, nextStep, false); err != nil {
		return o.beginCompensation(ctx, def, state, nextStep.Index,
			fmt.Sprintf("dispatch step %s: %v", nextStep.Name, err))
	}
	return nil
}

// beginCompensation moves a forward-phase saga into the compensation
// path after a failure at failedIndex. The failed step never completed,
// so compensation starts at failedIndex-1 and walks backwards over the
// steps that declare compensation.
func (o *Orchestrator) beginCompensation(ctx context.Context, def *SagaDefinition, state *SagaState, failedIndex int, reason string) error {
	failedStep, _ := def.Step(failedIndex)
	stepFailed, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventStepFailed,
		StepIndex: failedIndex,
		StepName:  failedStep.Name,
		Reason:    reason,
	})
	if err != nil {
		return err
	}

	plan := def.CompensationSteps(failedIndex - 1)
	if len(plan) == 0 {
		compensated, err := o.append(ctx, AppendInput{
			SagaID: state.ID,
			Type:   EventCompensationCompleted,
		})
		if err != nil {
			return err
		}

		err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
			if st.Status.IsTerminal() {
				return fmt.Errorf("%w: saga %s is %s", ErrSagaTerminal, st.ID, st.Status)
			}
			st.SetFailure(failedIndex, reason)
			if err := st.TransitionTo(StatusCompensating, o.clock()); err != nil {
				return err
			}
			return st.TransitionTo(StatusCompensationCompleted, o.clock())
		})
		if err != nil {
			return err
		}

		o.metrics.DecActiveSagas()
		o.metrics.RecordSagaExecution("compensated")
		o.metrics.RecordCompensation("completed")
		o.notify(ctx, state, stepFailed)
		o.notify(ctx, state, compensated)
		o.log.InfoContext(ctx, "saga failed with nothing to compensate",
			"saga_id", state.ID, "failed_step", failedStep.Name, "reason", reason)
		return nil
	}

	first := plan[0]
	compensating, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventCompensating,
		StepIndex: first.Index,
		StepName:  first.Name,
		Reason:    reason,
	})
	if err != nil {
		return err
	}

	err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
		if st.Status.IsTerminal() {
			return fmt.Errorf("%w: saga %s is %s", ErrSagaTerminal, st.ID, st.Status)
		}
		st.SetFailure(failedIndex, reason)
		st.CurrentStepIndex = first.Index
		st.CurrentStepName = first.Name
		st.CompensationAttempts = 0
		return st.TransitionTo(StatusCompensating, o.clock())
	})
	if err != nil {
		return err
	}

	o.metrics.RecordCompensation("started")
	o.notify(ctx, state, stepFailed)
	o.notify(ctx, state, compensating)
	o.log.WarnContext(ctx, "saga compensating",
		"saga_id", state.ID,
		"failed_step", failedStep.Name,
		"reason", reason,
		"compensation_steps", len(plan),
	)

	return o.dispatch(ctx, def, state, first, true)
}

func (o *Orchestrator) handleCompensationResponse(ctx context.Context, def *SagaDefinition, state *SagaState, resp ResponseEvent) error {
	ctx, span := sagaTracer().Start(ctx, spanSagaCompensationStep, trace.WithAttributes(
		attribute.String("saga.id", state.ID),
		attribute.Int("saga.step", resp.StepIndex),
		attribute.Bool("saga.step.success", resp.Success),
	))
	defer span.End()

	if resp.StepIndex != state.CurrentStepIndex {
		o.metrics.RecordStaleResponse()
		return fmt.Errorf("%w: saga %s compensating step %d, response for step %d",
			ErrStaleStep, state.ID, state.CurrentStepIndex, resp.StepIndex)
	}

	if !resp.Success {
		return o.retryCompensation(ctx, def, state, resp)
	}

	step, _ := def.Step(resp.StepIndex)
	compensatedStep, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventStepCompensated,
		StepIndex: step.Index,
		StepName:  step.Name,
	})
	if err != nil {
		return err
	}

	next, hasNext := nextCompensationStep(def, resp.StepIndex)
	if !hasNext {
		compensated, err := o.append(ctx, AppendInput{
			SagaID: state.ID,
			Type:   EventCompensationCompleted,
		})
		if err != nil {
			return err
		}

		err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
			if st.Status != StatusCompensating || st.CurrentStepIndex != resp.StepIndex {
				return fmt.Errorf("%w: saga %s moved during compensation", ErrStaleStep, st.ID)
			}
			return st.TransitionTo(StatusCompensationCompleted, o.clock())
		})
		if err != nil {
			return err
		}

		o.metrics.DecActiveSagas()
		o.metrics.RecordSagaExecution("compensated")
		o.metrics.RecordCompensation("completed")
		o.notify(ctx, state, compensatedStep)
		o.notify(ctx, state, compensated)
		o.log.InfoContext(ctx, "saga compensation completed", "saga_id", state.ID)
		return nil
	}

	err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
		if st.Status != StatusCompensating || st.CurrentStepIndex != resp.StepIndex {
			return fmt.Errorf("%w: saga %s moved during compensation", ErrStaleStep, st.ID)
		}
		st.CurrentStepIndex = next.Index
		st.CurrentStepName = next.Name
		st.CompensationAttempts = 0
		return st.TransitionTo(StatusCompensating, o.clock())
	})
	if err != nil {
		return err
	}

	o.notify(ctx, state, compensatedStep)
	return o.dispatch(ctx, def, state, next, true)
}

// retryCompensation redispatches a failed compensation command with
// backoff until the retry budget is spent, then marks the saga
// COMPENSATION_FAILED for manual intervention.
func (o *Orchestrator) retryCompensation(ctx context.Context, def *SagaDefinition, state *SagaState, resp ResponseEvent) error {
	step, _ := def.Step(resp.StepIndex)
	attempts := state.CompensationAttempts + 1

	if attempts <= o.compensationRetry.MaxRetries {
		stepFailed, err := o.append(ctx, AppendInput{
			SagaID:    state.ID,
			Type:      EventStepFailed,
			StepIndex: step.Index,
			StepName:  step.Name,
			Reason:    resp.Reason,
		})
		if err != nil {
			return err
		}

		err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
			if st.Status != StatusCompensating || st.CurrentStepIndex != resp.StepIndex {
				return fmt.Errorf("%w: saga %s moved during compensation retry", ErrStaleStep, st.ID)
			}
			st.CompensationAttempts = attempts
			return st.TransitionTo(StatusCompensating, o.clock())
		})
		if err != nil {
			return err
		}

		o.metrics.RecordCompensationRetry()
		o.notify(ctx, state, stepFailed)
		o.log.WarnContext(ctx, "compensation step failed, retrying",
			"saga_id", state.ID,
			"step", step.Name,
			"attempt", attempts,
			"max_retries", o.compensationRetry.MaxRetries,
		)

		if err := sleepBackoff(ctx, backoffForAttempt(o.compensationRetry, attempts)); err != nil {
			return err
		}
		return o.dispatch(ctx, def, state, step, true)
	}

	compensationFailed, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventCompensationFailed,
		StepIndex: step.Index,
		StepName:  step.Name,
		Reason:    resp.Reason,
	})
	if err != nil {
		return err
	}

	err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
		if st.Status != StatusCompensating || st.CurrentStepIndex != resp.StepIndex {
			return fmt.Errorf("%w: saga %s moved during compensation failure", ErrStaleStep, st.ID)
		}
		return st.TransitionTo(StatusCompensationFailed, o.clock())
	})
	if err != nil {
		return err
	}

	o.metrics.DecActiveSagas()
	o.metrics.RecordSagaExecution("compensation_failed")
	o.metrics.RecordCompensation("failed")
	o.notify(ctx, state, compensationFailed)
	o.log.ErrorContext(ctx, "saga compensation failed, manual intervention required",
		"saga_id", state.ID,
		"step", step.Name,
		"reason", resp.Reason,
	)
	return nil
}

// Redispatch resends the current command of a stalled saga and records
// a SAGA_TIMEOUT_RETRY event so redispatch budgets survive restarts.
func (o *Orchestrator) Redispatch(ctx context.Context, sagaID string) error {
	state, err := o.states.Get(ctx, sagaID)
	if err != nil {
		return err
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("%w: saga %s is %s", ErrSagaTerminal, state.ID, state.Status)
	}

	def, err := o.registry.Get(state.SagaType)
	if err != nil {
		return err
	}
	step, ok := def.Step(state.CurrentStepIndex)
	if !ok {
		return fmt.Errorf("saga %s current step %d out of range", state.ID, state.CurrentStepIndex)
	}

	retry, err := o.append(ctx, AppendInput{
		SagaID:    state.ID,
		Type:      EventTimeoutRetry,
		StepIndex: step.Index,
		StepName:  step.Name,
	})
	if err != nil {
		return err
	}

	// Bump UpdatedAt so the sweeper waits a full timeout before acting again.
	err = o.saveWithRetry(ctx, state, func(st *SagaState) error {
		if !st.Status.IsActive() || st.CurrentStepIndex != step.Index {
			return fmt.Errorf("%w: saga %s moved during redispatch", ErrStaleStep, st.ID)
		}
		return st.TransitionTo(st.Status, o.clock())
	})
	if err != nil {
		return err
	}

	o.metrics.RecordTimeoutRedispatch()
	o.notify(ctx, state, retry)
	return o.dispatch(ctx, def, state, step, state.Status == StatusCompensating)
}

// Expire forces a timed-out saga off its current step: a forward-phase
// saga begins compensation, a compensating saga is marked
// COMPENSATION_FAILED.
func (o *Orchestrator) Expire(ctx context.Context, sagaID string, reason string) error {
	state, err := o.states.Get(ctx, sagaID)
	if err != nil {
		return err
	}
	if !state.Status.IsActive() {
		return fmt.Errorf("%w: saga %s is %s", ErrSagaTerminal, state.ID, state.Status)
	}

	def, err := o.registry.Get(state.SagaType)
	if err != nil {
		return err
	}

	if state.Status == StatusCompensating {
		// A compensation step that exhausted its redispatch budget is not
		// retried further.
		state.CompensationAttempts = o.compensationRetry.MaxRetries
		return o.retryCompensation(ctx, def, state, ResponseEvent{
			SagaID:       state.ID,
			StepIndex:    state.CurrentStepIndex,
			StepName:     state.CurrentStepName,
			Success:      false,
			Compensation: true,
			Reason:       reason,
		})
	}
	return o.beginCompensation(ctx, def, state, state.CurrentStepIndex, reason)
}

func (o *Orchestrator) dispatch(ctx context.Context, def *SagaDefinition, state *SagaState, step SagaStep, compensation bool) error {
	topic := step.CommandTopic
	if compensation {
		topic = step.CompensationTopic
	}

	command := Command{
		SagaID:        state.ID,
		SagaType:      state.SagaType,
		StepIndex:     step.Index,
		StepName:      step.Name,
		Compensation:  compensation,
		ResponseTopic: def.ResponseTopic,
		Payload:       copyDataMap(state.SagaData),
		Timestamp:     o.clock(),
	}
	if err := o.dispatcher.Dispatch(ctx, topic, command); err != nil {
		return err
	}
	o.metrics.RecordStepDispatch(topic, compensation)
	return nil
}

func (o *Orchestrator) append(ctx context.Context, input AppendInput) (Event, error) {
	event, err := o.events.Append(ctx, input)
	if err != nil {
		return Event{}, fmt.Errorf("append %s event: %w", input.Type, err)
	}
	return event, nil
}

// saveWithRetry saves the state with an optimistic version check. On a
// conflict it reloads and reapplies the mutation against the fresh
// snapshot, bounded by the conflict retry budget. Events appended by
// the caller are never appended twice.
func (o *Orchestrator) saveWithRetry(ctx context.Context, state *SagaState, apply func(*SagaState) error) error {
	current := state
	for attempt := 0; ; attempt++ {
		if err := apply(current); err != nil {
			return err
		}
		err := o.states.Save(ctx, current, current.Version)
		if err == nil {
			*state = *current
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= o.conflictRetries {
			return err
		}

		o.metrics.RecordVersionConflict()
		fresh, getErr := o.states.Get(ctx, current.ID)
		if getErr != nil {
			return getErr
		}
		current = fresh
	}
}

func (o *Orchestrator) notify(ctx context.Context, state *SagaState, event Event) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, cloneState(state), event)
}

func nextCompensationStep(def *SagaDefinition, fromIndex int) (SagaStep, bool) {
	for i := fromIndex - 1; i >= 0; i-- {
		step, ok := def.Step(i)
		if ok && step.HasCompensation {
			return step, true
		}
	}
	return SagaStep{}, false
}

func backoffForAttempt(cfg CompensationRetryConfig, attempt int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	return backoff
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
