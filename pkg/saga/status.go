package saga

import "fmt"

// SagaStatus defines lifecycle of a saga instance. Values are persisted
// and exposed on the wire, so they never change meaning.
type SagaStatus string

const (
	StatusStarted               SagaStatus = "STARTED"
	StatusInProgress            SagaStatus = "IN_PROGRESS"
	StatusCompleted             SagaStatus = "COMPLETED"
	StatusCompensating          SagaStatus = "COMPENSATING"
	StatusCompensationCompleted SagaStatus = "COMPENSATION_COMPLETED"
	StatusCompensationFailed    SagaStatus = "COMPENSATION_FAILED"
	StatusFailed                SagaStatus = "FAILED"
)

var validTransitions = map[SagaStatus]map[SagaStatus]struct{}{
	StatusStarted: {
		StatusStarted:      {},
		StatusInProgress:   {},
		StatusCompensating: {},
		StatusFailed:       {},
	},
	StatusInProgress: {
		StatusInProgress:   {},
		StatusCompleted:    {},
		StatusCompensating: {},
		StatusFailed:       {},
	},
	StatusCompensating: {
		StatusCompensating:          {},
		StatusCompensationCompleted: {},
		StatusCompensationFailed:    {},
	},
}

// AllStatuses returns every defined status.
func AllStatuses() []SagaStatus {
	return []SagaStatus{
		StatusStarted,
		StatusInProgress,
		StatusCompleted,
		StatusCompensating,
		StatusCompensationCompleted,
		StatusCompensationFailed,
		StatusFailed,
	}
}

// Valid reports whether s is a defined status value.
func (s SagaStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusCompleted,
		StatusCompensating, StatusCompensationCompleted,
		StatusCompensationFailed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is terminal. A terminal saga
// never accepts further responses.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensationCompleted, StatusCompensationFailed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the saga still expects step responses.
func (s SagaStatus) IsActive() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusCompensating:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a status transition is valid.
func (s SagaStatus) CanTransitionTo(next SagaStatus) bool {
	validNext, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition validates transition semantics.
func ValidateTransition(current, next SagaStatus) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid saga status transition: %s -> %s", current, next)
	}
	return nil
}
