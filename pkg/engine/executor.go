package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/engine/expr"
	"github.com/shazaibn/nanobus/pkg/telemetry"
)

const tracerName = "nanobus.pipeline"

// StepError wraps a step's failure with its position so callers see which
// step aborted the pipeline. The underlying error's kind propagates.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (index %d): %v", e.Step, e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailureKind implements domain.Kinder: evaluation errors and cancellation
// keep their own kinds; anything else is a unit failure.
func (e *StepError) FailureKind() domain.FailureKind {
	switch {
	case errors.Is(e.Err, expr.ErrFieldNotFound), errors.Is(e.Err, expr.ErrTypeMismatch):
		return domain.KindEvalError
	case errors.Is(e.Err, expr.ErrSyntax):
		return domain.KindParseError
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return domain.KindCancelled
	default:
		return domain.KindStepFailed
	}
}

// Executor runs compiled pipelines. It holds no per-invocation state; one
// Executor serves all concurrent invocations.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor logging through the given logger.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Run executes the pipeline's steps in declaration order against the input.
// The first failing step aborts the remainder; cancellation between steps
// surfaces as a cancelled failure. An empty pipeline returns the input
// unchanged.
func (e *Executor) Run(ctx context.Context, pipeline *Pipeline, input any) (any, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("bus.interface", pipeline.Interface),
		attribute.String("bus.method", pipeline.Method),
		attribute.Int("pipeline.steps", len(pipeline.Steps)),
	))
	defer span.End()

	if len(pipeline.Steps) == 0 {
		return input, nil
	}

	outs := newOutputs(len(pipeline.Steps))
	lookup := outs.lookup(input)

	var last any
	for i, step := range pipeline.Steps {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("pipeline cancelled before step %q: %w", step.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		value, err := e.runStep(ctx, tracer, pipeline, i, step, lookup)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		outs.record(step.Name, value)
		last = value
	}

	if pipeline.Output != "" {
		value, ok := outs.value(pipeline.Output)
		if !ok {
			// Unreachable when the registry validated the reference.
			return nil, fmt.Errorf("output step %q produced no value", pipeline.Output)
		}
		return value, nil
	}

	return last, nil
}

func (e *Executor) runStep(ctx context.Context, tracer trace.Tracer, pipeline *Pipeline, index int, step Step, lookup expr.LookupFunc) (any, error) {
	stepCtx, span := tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.unit", step.UnitName),
		attribute.Int("step.index", index),
	))
	defer span.End()

	config, err := resolveConfig(step, lookup)
	if err != nil {
		wrapped := &StepError{Step: step.Name, Index: index, Err: err}
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	start := time.Now()
	value, err := step.Unit.Invoke(stepCtx, config)
	duration := time.Since(start)

	telemetry.RecordStepMetrics(ctx, telemetry.StepMetrics{
		Interface: pipeline.Interface,
		Method:    pipeline.Method,
		Step:      step.Name,
		Unit:      step.UnitName,
		Failed:    err != nil,
		Duration:  duration,
	})

	if err != nil {
		wrapped := &StepError{Step: step.Name, Index: index, Err: err}
		e.logger.Error("step execution failed",
			"interface", pipeline.Interface,
			"method", pipeline.Method,
			"step", step.Name,
			"unit", step.UnitName,
			"error", err,
		)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	span.SetAttributes(attribute.Int64("step.duration_ms", duration.Milliseconds()))
	return value, nil
}

// resolveConfig evaluates the step's expression bindings against the data
// context; literal entries pass through untouched.
func resolveConfig(step Step, lookup expr.LookupFunc) (map[string]any, error) {
	config := make(map[string]any, len(step.Config))
	for _, entry := range step.Config {
		if entry.Expr == nil {
			config[entry.Key] = entry.Literal
			continue
		}
		value, err := entry.Expr.Eval(lookup)
		if err != nil {
			return nil, fmt.Errorf("with %q: %w", entry.Key, err)
		}
		config[entry.Key] = value
	}
	return config, nil
}

// outputs is the append-only arena of recorded step values. Steps can only
// see values recorded before them, which is what makes forward references
// fail naturally.
type outputs struct {
	byName    map[string]any
	stepsView map[string]any
}

func newOutputs(capacity int) *outputs {
	return &outputs{
		byName:    make(map[string]any, capacity),
		stepsView: make(map[string]any, capacity),
	}
}

func (o *outputs) record(name string, value any) {
	o.byName[name] = value
	o.stepsView[name] = map[string]any{"output": value}
}

func (o *outputs) value(name string) (any, bool) {
	v, ok := o.byName[name]
	return v, ok
}

// lookup exposes the data context expressions evaluate against: the original
// input under "input", prior step values under "steps.<name>.output", and
// each prior step name directly at top level.
func (o *outputs) lookup(input any) expr.LookupFunc {
	return func(name string) (any, bool) {
		switch name {
		case "input":
			return input, true
		case "steps":
			return o.stepsView, true
		default:
			v, ok := o.byName[name]
			return v, ok
		}
	}
}
