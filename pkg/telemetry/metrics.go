package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	invocationCounter        metric.Int64Counter
	invocationLatencyHist    metric.Float64Histogram
	stepExecutionCounter     metric.Int64Counter
	stepFailureCounter       metric.Int64Counter
	stepLatencyHistogram     metric.Float64Histogram
	configReloadCounter      metric.Int64Counter
	configReloadErrorCounter metric.Int64Counter
)

// InvocationMetrics captures the fields needed to record one dispatched
// invocation, successful or not.
type InvocationMetrics struct {
	Interface string
	Method    string
	Kind      string
	Duration  time.Duration
}

// RecordInvocation emits the invocation counter and latency histogram,
// partitioned by route and failure kind.
func RecordInvocation(ctx context.Context, metrics InvocationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("bus.interface", metrics.Interface),
		attribute.String("bus.method", metrics.Method),
		attribute.String("bus.failure_kind", metrics.Kind),
	}

	invocationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		invocationLatencyHist.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// StepMetrics captures the fields needed to record pipeline step telemetry.
type StepMetrics struct {
	Interface string
	Method    string
	Step      string
	Unit      string
	Failed    bool
	Duration  time.Duration
}

// RecordStepMetrics emits counters and histograms describing step execution
// behaviour.
func RecordStepMetrics(ctx context.Context, metrics StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("bus.interface", metrics.Interface),
		attribute.String("bus.method", metrics.Method),
		attribute.String("step.name", metrics.Step),
		attribute.String("step.unit", metrics.Unit),
	}

	stepExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Failed {
		stepFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if metrics.Duration > 0 {
		stepLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordConfigReload counts configuration reload attempts by outcome.
func RecordConfigReload(ctx context.Context, generation int64, err error) {
	if initErr := ensureMetrics(); initErr != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Int64("config.generation", generation))
	if err != nil {
		configReloadErrorCounter.Add(ctx, 1, attrs)
		return
	}
	configReloadCounter.Add(ctx, 1, attrs)
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("nanobus.pipeline")

		invocationCounter, metricsInitErr = meter.Int64Counter(
			"bus.invocations_total",
			metric.WithDescription("Dispatched invocations partitioned by route and failure kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		invocationLatencyHist, metricsInitErr = meter.Float64Histogram(
			"bus.invocation.duration_ms",
			metric.WithDescription("Observed end-to-end invocation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		stepExecutionCounter, metricsInitErr = meter.Int64Counter(
			"bus.step.executions_total",
			metric.WithDescription("Pipeline step executions"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepFailureCounter, metricsInitErr = meter.Int64Counter(
			"bus.step.failures_total",
			metric.WithDescription("Pipeline step executions that returned an error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"bus.step.duration_ms",
			metric.WithDescription("Observed step execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		configReloadCounter, metricsInitErr = meter.Int64Counter(
			"bus.config.reloads_total",
			metric.WithDescription("Configuration snapshots applied successfully"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		configReloadErrorCounter, metricsInitErr = meter.Int64Counter(
			"bus.config.reload_errors_total",
			metric.WithDescription("Configuration snapshots rejected during apply"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
