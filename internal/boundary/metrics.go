package boundary

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
)

const instrumentationName = "github.com/hugo-lorenzo-mato/adpilot/internal/boundary"

// Metrics holds the boundary instruments.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	retries  metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates instruments on meter. Instruments that fail to
// register are left nil and skipped at record time.
func NewMetricsWithMeter(meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{}
	var err error

	m.calls, err = meter.Int64Counter(
		"adpilot.tool.calls_total",
		metric.WithDescription("Tool calls made through the invocation boundary"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create calls counter", "error", err)
	}

	m.duration, err = meter.Float64Histogram(
		"adpilot.tool.call_duration_seconds",
		metric.WithDescription("Duration of tool calls including backoff"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"adpilot.tool.in_flight",
		metric.WithDescription("Tool calls currently holding a concurrency slot"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create in-flight gauge", "error", err)
	}

	m.retries, err = meter.Int64Counter(
		"adpilot.tool.rate_limit_retries_total",
		metric.WithDescription("Backoff retries after rate_limited responses"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		logger.Warn("failed to create retries counter", "error", err)
	}

	return m
}

func (m *Metrics) recordCall(ctx context.Context, tool core.ToolName, d time.Duration, failure *core.ToolFailure) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failure != nil {
		outcome = string(failure.Kind)
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", string(tool)),
			attribute.String("outcome", outcome),
		))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", string(tool))))
	}
}

func (m *Metrics) addInFlight(ctx context.Context, tool core.ToolName, delta int64) {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Add(ctx, delta, metric.WithAttributes(attribute.String("tool", string(tool))))
}

func (m *Metrics) recordRetry(ctx context.Context, tool core.ToolName) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", string(tool))))
}
