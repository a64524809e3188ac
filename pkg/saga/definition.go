// Package saga implements a message-driven saga orchestration core:
// saga definitions, an append-only event store, a versioned state store,
// and the orchestrator state machine driving forward execution and
// reverse-order compensation over command/response topics.
package saga

import (
	"fmt"
	"strings"
	"time"
)

// SagaStep is one ordered step of a saga definition.
type SagaStep struct {
	Name              string
	Index             int
	CommandTopic      string
	HasCompensation   bool
	CompensationTopic string
	Timeout           time.Duration
}

// SagaDefinition describes an ordered multi-step saga of one saga type.
// Definitions are immutable after Build.
type SagaDefinition struct {
	SagaType      string
	ResponseTopic string
	steps         []SagaStep
}

// TotalSteps returns the number of steps.
func (d *SagaDefinition) TotalSteps() int {
	return len(d.steps)
}

// Step returns the step at index, reporting whether it exists.
func (d *SagaDefinition) Step(index int) (SagaStep, bool) {
	if index < 0 || index >= len(d.steps) {
		return SagaStep{}, false
	}
	return d.steps[index], true
}

// Steps returns a copy of all steps in execution order.
func (d *SagaDefinition) Steps() []SagaStep {
	steps := make([]SagaStep, len(d.steps))
	copy(steps, d.steps)
	return steps
}

// CompensationSteps returns the steps to compensate after a failure,
// in reverse execution order: every step with index <= fromIndex that
// declares compensation, highest index first.
func (d *SagaDefinition) CompensationSteps(fromIndex int) []SagaStep {
	if fromIndex >= len(d.steps) {
		fromIndex = len(d.steps) - 1
	}
	plan := make([]SagaStep, 0, fromIndex+1)
	for i := fromIndex; i >= 0; i-- {
		if d.steps[i].HasCompensation {
			plan = append(plan, d.steps[i])
		}
	}
	return plan
}

// StepOption customizes one step at build time.
type StepOption func(step *SagaStep) error

// NoCompensation marks a step as not compensatable.
func NoCompensation() StepOption {
	return func(step *SagaStep) error {
		step.HasCompensation = false
		step.CompensationTopic = ""
		return nil
	}
}

// CompensationTopic sets the topic compensation commands are sent to.
func CompensationTopic(topic string) StepOption {
	return func(step *SagaStep) error {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("compensation topic cannot be blank")
		}
		step.HasCompensation = true
		step.CompensationTopic = topic
		return nil
	}
}

// StepTimeout sets the per-step response timeout.
func StepTimeout(timeout time.Duration) StepOption {
	return func(step *SagaStep) error {
		if timeout <= 0 {
			return fmt.Errorf("step timeout must be positive")
		}
		step.Timeout = timeout
		return nil
	}
}

const defaultStepTimeout = 30 * time.Second

// Builder incrementally constructs SagaDefinition instances.
type Builder struct {
	def  *SagaDefinition
	errs []error
}

// NewDefinition creates a saga definition builder for one saga type.
func NewDefinition(sagaType string) *Builder {
	return &Builder{
		def: &SagaDefinition{
			SagaType: sagaType,
			steps:    make([]SagaStep, 0),
		},
	}
}

// Step appends an ordered step. The step command topic doubles as the
// compensation topic unless CompensationTopic or NoCompensation says
// otherwise.
func (b *Builder) Step(name, commandTopic string, opts ...StepOption) *Builder {
	step := SagaStep{
		Name:              name,
		Index:             len(b.def.steps),
		CommandTopic:      commandTopic,
		HasCompensation:   true,
		CompensationTopic: commandTopic,
		Timeout:           defaultStepTimeout,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&step); err != nil {
			b.errs = append(b.errs, fmt.Errorf("step %q: %w", name, err))
		}
	}

	b.def.steps = append(b.def.steps, step)
	return b
}

// ResponseTopic sets the shared topic step responses arrive on.
func (b *Builder) ResponseTopic(topic string) *Builder {
	b.def.ResponseTopic = topic
	return b
}

// Build validates and returns the immutable definition.
func (b *Builder) Build() (*SagaDefinition, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.def.validate(); err != nil {
		return nil, err
	}
	return b.def.clone(), nil
}

func (d *SagaDefinition) validate() error {
	if strings.TrimSpace(d.SagaType) == "" {
		return fmt.Errorf("saga type cannot be empty")
	}
	if len(d.steps) == 0 {
		return fmt.Errorf("saga %q must define at least one step", d.SagaType)
	}
	if strings.TrimSpace(d.ResponseTopic) == "" {
		return fmt.Errorf("saga %q response topic cannot be blank", d.SagaType)
	}

	seen := make(map[string]struct{}, len(d.steps))
	for i, step := range d.steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("saga %q step %d name cannot be blank", d.SagaType, i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("saga %q has duplicate step name %q", d.SagaType, step.Name)
		}
		seen[step.Name] = struct{}{}
		if step.Index != i {
			return fmt.Errorf("saga %q step %q has non-contiguous index %d", d.SagaType, step.Name, step.Index)
		}
		if strings.TrimSpace(step.CommandTopic) == "" {
			return fmt.Errorf("saga %q step %q command topic cannot be blank", d.SagaType, step.Name)
		}
		if step.HasCompensation && strings.TrimSpace(step.CompensationTopic) == "" {
			return fmt.Errorf("saga %q step %q declares compensation without a topic", d.SagaType, step.Name)
		}
	}
	return nil
}

func (d *SagaDefinition) clone() *SagaDefinition {
	steps := make([]SagaStep, len(d.steps))
	copy(steps, d.steps)
	return &SagaDefinition{
		SagaType:      d.SagaType,
		ResponseTopic: d.ResponseTopic,
		steps:         steps,
	}
}
