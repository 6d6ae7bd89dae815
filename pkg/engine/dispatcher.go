package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shazaibn/nanobus/pkg/authorize"
	"github.com/shazaibn/nanobus/pkg/config"
	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/telemetry"
)

// Recorder observes completed invocations, e.g. for the audit log. It is
// never on the authorization decision path.
type Recorder interface {
	Record(ctx context.Context, record InvocationRecord)
}

// InvocationRecord summarizes one handled invocation.
type InvocationRecord struct {
	ID        string
	Interface string
	Method    string
	Kind      domain.FailureKind
	Duration  time.Duration
	At        time.Time
}

// dispatchState bundles the registry and policy table compiled from one
// configuration snapshot. Handle loads it exactly once per invocation, so
// in-flight requests keep the snapshot they started with across reloads.
type dispatchState struct {
	generation int64
	registry   *Registry
	authorizer *authorize.Table
}

// Dispatcher is the top-level entry point transport adapters call. It
// resolves the route, consults the authorization gate, and runs the step
// executor — in that order, every time.
type Dispatcher struct {
	logger   *slog.Logger
	executor *Executor
	units    *UnitRegistry
	recorder Recorder

	state atomic.Pointer[dispatchState]
}

// DispatcherConfig holds dependencies for creating a Dispatcher.
type DispatcherConfig struct {
	Logger *slog.Logger
	// Units optionally supplies a pre-populated unit registry; the builtins
	// are registered when it is nil.
	Units    *UnitRegistry
	Recorder Recorder
}

// NewDispatcher creates a dispatcher. Apply must deliver a snapshot before
// the first Handle call.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	units := cfg.Units
	if units == nil {
		units = NewUnitRegistry()
		units.RegisterBuiltins(logger)
	}

	return &Dispatcher{
		logger:   logger,
		executor: NewExecutor(logger),
		units:    units,
		recorder: cfg.Recorder,
	}
}

// Units exposes the unit registry so embedders can register their own
// computation units before the first snapshot is applied.
func (d *Dispatcher) Units() *UnitRegistry {
	return d.units
}

// Apply compiles a configuration snapshot into fresh dispatch state and
// swaps it in atomically. On error the previous state stays active.
func (d *Dispatcher) Apply(ctx context.Context, snapshot *config.Snapshot) error {
	if snapshot == nil || snapshot.Document == nil {
		return fmt.Errorf("apply: snapshot has no document")
	}

	registry, err := NewRegistry(snapshot.Document, d.units)
	if err != nil {
		return fmt.Errorf("compile pipelines: %w", err)
	}

	table, err := authorize.NewTable(ctx, snapshot.Document.Authorization)
	if err != nil {
		return fmt.Errorf("compile authorization table: %w", err)
	}

	d.state.Store(&dispatchState{
		generation: snapshot.Generation,
		registry:   registry,
		authorizer: table,
	})

	d.logger.Info("dispatch state applied",
		"generation", snapshot.Generation,
		"routes", registry.Len(),
	)
	return nil
}

// Handle runs one invocation end to end: resolve, authorize, execute. The
// gate is consulted exactly once, before any step runs; a denial returns
// immediately and the pipeline is never touched.
func (d *Dispatcher) Handle(ctx context.Context, interfaceName, methodName string, claims domain.Claims, input any) (any, error) {
	state := d.state.Load()
	if state == nil {
		return nil, fmt.Errorf("dispatcher has no configuration applied")
	}

	id := uuid.NewString()
	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "bus.invoke", trace.WithAttributes(
		attribute.String("bus.invocation_id", id),
		attribute.String("bus.interface", interfaceName),
		attribute.String("bus.method", methodName),
		attribute.Int64("bus.config_generation", state.generation),
	))
	defer span.End()

	value, err := d.dispatch(ctx, state, interfaceName, methodName, claims, input)
	duration := time.Since(start)
	kind := domain.KindOf(err)

	telemetry.RecordInvocation(ctx, telemetry.InvocationMetrics{
		Interface: interfaceName,
		Method:    methodName,
		Kind:      string(kind),
		Duration:  duration,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("bus.failure_kind", string(kind)))
	}

	if d.recorder != nil {
		d.recorder.Record(ctx, InvocationRecord{
			ID:        id,
			Interface: interfaceName,
			Method:    methodName,
			Kind:      kind,
			Duration:  duration,
			At:        start.UTC(),
		})
	}

	return value, err
}

func (d *Dispatcher) dispatch(ctx context.Context, state *dispatchState, interfaceName, methodName string, claims domain.Claims, input any) (any, error) {
	pipeline, err := state.registry.Resolve(interfaceName, methodName)
	if err != nil {
		d.logger.Debug("route not found",
			"interface", interfaceName,
			"method", methodName,
		)
		return nil, err
	}

	if err := state.authorizer.Check(ctx, interfaceName, methodName, claims); err != nil {
		var denial *authorize.Denial
		if errors.As(err, &denial) {
			d.logger.Warn("invocation denied",
				"interface", interfaceName,
				"method", methodName,
				"reason", denial.Reason(),
			)
		}
		return nil, err
	}

	return d.executor.Run(ctx, pipeline, input)
}
