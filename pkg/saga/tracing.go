package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sagaTracerName = "sagaflow.saga"

const (
	spanSagaStart            = "saga.start"
	spanSagaStepResponse     = "saga.step.response"
	spanSagaCompensationStep = "saga.step.compensate"
	spanSagaTimeoutSweep     = "saga.timeout.sweep"
)

func sagaTracer() trace.Tracer {
	return otel.Tracer(sagaTracerName)
}
