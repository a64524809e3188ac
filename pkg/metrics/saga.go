package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_executions_total",
			Help: "Total number of saga executions by outcome",
		},
		[]string{"status"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga execution duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"status"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active_count",
			Help: "Current number of active saga executions",
		},
	)

	m.sagaStepDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_dispatches_total",
			Help: "Total number of step commands dispatched by topic",
		},
		[]string{"topic", "compensation"},
	)

	m.sagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensation phases by outcome",
		},
		[]string{"status"},
	)

	m.sagaCompensationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_compensation_retries_total",
			Help: "Total number of compensation retries",
		},
	)

	m.sagaVersionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on state saves",
		},
	)

	m.sagaStaleResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_stale_responses_total",
			Help: "Total number of responses rejected as stale or out of order",
		},
	)

	m.sagaListenerDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_listener_drops_total",
			Help: "Total number of response messages dropped by the listener",
		},
		[]string{"reason"},
	)

	m.sagaTimeoutRedispatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_timeout_redispatches_total",
			Help: "Total number of commands redispatched after a step timeout",
		},
	)

	m.registry.MustRegister(m.sagaExecutions)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagaActive)
	m.registry.MustRegister(m.sagaStepDispatches)
	m.registry.MustRegister(m.sagaCompensations)
	m.registry.MustRegister(m.sagaCompensationRetries)
	m.registry.MustRegister(m.sagaVersionConflicts)
	m.registry.MustRegister(m.sagaStaleResponses)
	m.registry.MustRegister(m.sagaListenerDrops)
	m.registry.MustRegister(m.sagaTimeoutRedispatches)
}

// RecordSagaExecution records one saga execution outcome.
func (m *Manager) RecordSagaExecution(status string) {
	if !m.enabled {
		return
	}
	m.sagaExecutions.WithLabelValues(status).Inc()
}

// RecordSagaDuration records saga execution latency.
func (m *Manager) RecordSagaDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveSagas increments current active saga count.
func (m *Manager) IncActiveSagas() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

// DecActiveSagas decrements current active saga count.
func (m *Manager) DecActiveSagas() {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
}

// RecordStepDispatch records one dispatched step command.
func (m *Manager) RecordStepDispatch(topic string, compensation bool) {
	if !m.enabled {
		return
	}
	m.sagaStepDispatches.WithLabelValues(topic, strconv.FormatBool(compensation)).Inc()
}

// RecordCompensation records one compensation phase outcome.
func (m *Manager) RecordCompensation(status string) {
	if !m.enabled {
		return
	}
	m.sagaCompensations.WithLabelValues(status).Inc()
}

// RecordCompensationRetry records one compensation retry.
func (m *Manager) RecordCompensationRetry() {
	if !m.enabled {
		return
	}
	m.sagaCompensationRetries.Inc()
}

// RecordVersionConflict records one optimistic save conflict.
func (m *Manager) RecordVersionConflict() {
	if !m.enabled {
		return
	}
	m.sagaVersionConflicts.Inc()
}

// RecordStaleResponse records one response rejected as stale.
func (m *Manager) RecordStaleResponse() {
	if !m.enabled {
		return
	}
	m.sagaStaleResponses.Inc()
}

// RecordListenerDrop records one response message dropped by the listener.
func (m *Manager) RecordListenerDrop(reason string) {
	if !m.enabled {
		return
	}
	m.sagaListenerDrops.WithLabelValues(reason).Inc()
}

// RecordTimeoutRedispatch records one timeout-triggered redispatch.
func (m *Manager) RecordTimeoutRedispatch() {
	if !m.enabled {
		return
	}
	m.sagaTimeoutRedispatches.Inc()
}
