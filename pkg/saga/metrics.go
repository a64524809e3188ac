package saga

import "time"

// MetricsRecorder records saga runtime metrics.
type MetricsRecorder interface {
	RecordSagaExecution(status string)
	RecordSagaDuration(status string, duration time.Duration)
	IncActiveSagas()
	DecActiveSagas()
	RecordStepDispatch(topic string, compensation bool)
	RecordCompensation(status string)
	RecordCompensationRetry()
	RecordVersionConflict()
	RecordStaleResponse()
	RecordListenerDrop(reason string)
	RecordTimeoutRedispatch()
}

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordSagaExecution(status string)                        {}
func (n *nopMetricsRecorder) RecordSagaDuration(status string, duration time.Duration) {}
func (n *nopMetricsRecorder) IncActiveSagas()                                          {}
func (n *nopMetricsRecorder) DecActiveSagas()                                          {}
func (n *nopMetricsRecorder) RecordStepDispatch(topic string, compensation bool)       {}
func (n *nopMetricsRecorder) RecordCompensation(status string)                         {}
func (n *nopMetricsRecorder) RecordCompensationRetry()                                 {}
func (n *nopMetricsRecorder) RecordVersionConflict()                                   {}
func (n *nopMetricsRecorder) RecordStaleResponse()                                     {}
func (n *nopMetricsRecorder) RecordListenerDrop(reason string)                         {}
func (n *nopMetricsRecorder) RecordTimeoutRedispatch()                                 {}
