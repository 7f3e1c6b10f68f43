package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

const instrumentationName = "github.com/hugo-lorenzo-mato/adpilot/internal/workflow"

// Phase attempt outcomes.
const (
	outcomeAccepted  = "accepted"
	outcomeInvalid   = "invalid"
	outcomeToolError = "tool_error"
)

// Metrics holds the router instruments.
type Metrics struct {
	runs          metric.Int64Counter
	phaseAttempts metric.Int64Counter
	phaseDuration metric.Float64Histogram
	active        metric.Int64UpDownCounter
}

// NewMetrics creates router instruments on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates router instruments on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"adpilot.workflow.runs_total",
		metric.WithDescription("Workflows that reached a terminal status"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", "error", err)
	}

	m.phaseAttempts, err = meter.Int64Counter(
		"adpilot.workflow.phase_attempts_total",
		metric.WithDescription("Phase executions by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create phase attempts counter", "error", err)
	}

	m.phaseDuration, err = meter.Float64Histogram(
		"adpilot.workflow.phase_duration_seconds",
		metric.WithDescription("Duration of phase executions including validation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create phase duration histogram", "error", err)
	}

	m.active, err = meter.Int64UpDownCounter(
		"adpilot.workflow.active",
		metric.WithDescription("Workflows currently running"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		logger.Warn("failed to create active workflows gauge", "error", err)
	}

	return m
}

func (m *Metrics) recordRun(ctx context.Context, status core.WorkflowStatus, reason core.StopReason) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("stop_reason", string(reason)),
	))
}

func (m *Metrics) recordPhase(ctx context.Context, phase core.Phase, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", string(phase)), attribute.String("outcome", outcome))
	if m.phaseAttempts != nil {
		m.phaseAttempts.Add(ctx, 1, attrs)
	}
	if m.phaseDuration != nil {
		m.phaseDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) addActive(ctx context.Context, delta int64) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Add(ctx, delta)
}
