package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "gatewright"

// Metrics holds all Gatewright metric instruments.
type Metrics struct {
	WorkflowsStarted   metric.Int64Counter
	WorkflowsDecided   metric.Int64Counter
	WorkflowsCancelled metric.Int64Counter
	StepDuration       metric.Float64Histogram
	BreakerRejections  metric.Int64Counter
	TicketsCreated     metric.Int64Counter
	TicketsDeduped     metric.Int64Counter
	TicketsQueued      metric.Int64Counter
	SLASignals         metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WorkflowsStarted, err = meter.Int64Counter("gatewright.workflows.started",
		metric.WithDescription("Number of workflow instances started"))
	if err != nil {
		return nil, err
	}

	m.WorkflowsDecided, err = meter.Int64Counter("gatewright.workflows.decided",
		metric.WithDescription("Number of final merge decisions, by decision attribute"))
	if err != nil {
		return nil, err
	}

	m.WorkflowsCancelled, err = meter.Int64Counter("gatewright.workflows.cancelled",
		metric.WithDescription("Number of instances superseded by newer revisions"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("gatewright.step.duration_seconds",
		metric.WithDescription("Step execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.BreakerRejections, err = meter.Int64Counter("gatewright.breaker.rejections",
		metric.WithDescription("Step executions rejected by an open circuit breaker"))
	if err != nil {
		return nil, err
	}

	m.TicketsCreated, err = meter.Int64Counter("gatewright.tickets.created",
		metric.WithDescription("Tracker tickets created"))
	if err != nil {
		return nil, err
	}

	m.TicketsDeduped, err = meter.Int64Counter("gatewright.tickets.deduped",
		metric.WithDescription("Ticket requests folded into an existing open ticket"))
	if err != nil {
		return nil, err
	}

	m.TicketsQueued, err = meter.Int64Counter("gatewright.tickets.queued",
		metric.WithDescription("Ticket requests queued for background retry"))
	if err != nil {
		return nil, err
	}

	m.SLASignals, err = meter.Int64Counter("gatewright.sla.signals",
		metric.WithDescription("SLA reminder/escalation/timeout signals, by signal attribute"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
