// Package runtime defines the contract between the step executor and the
// computation units steps invoke, keeping unit implementations decoupled
// from execution mechanics.
package runtime

import "context"

// Unit is a pluggable computation unit referenced by a step's `uses`
// identifier. It receives the step's fully resolved configuration (all
// expression bindings already evaluated) and returns the step's output value
// or a typed failure. Units may block or perform I/O; the executor awaits
// completion before the next step runs.
type Unit interface {
	Invoke(ctx context.Context, config map[string]any) (any, error)
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context, config map[string]any) (any, error)

// Invoke calls the wrapped function.
func (f UnitFunc) Invoke(ctx context.Context, config map[string]any) (any, error) {
	return f(ctx, config)
}
