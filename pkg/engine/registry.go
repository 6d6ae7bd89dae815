package engine

import (
	"fmt"

	"github.com/shazaibn/nanobus/pkg/config"
	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/engine/expr"
	"github.com/shazaibn/nanobus/pkg/engine/runtime"
)

// astCache shares compiled expression ASTs across registry rebuilds so hot
// reloads of an unchanged pipeline reuse prior parses.
var astCache = expr.NewCache(0)

// Pipeline is the compiled, immutable form of one interface method's step
// list. Steps execute in declaration order.
type Pipeline struct {
	Interface string
	Method    string
	Steps     []Step

	// Output names the step whose value is the invocation result; empty
	// selects the last step.
	Output string
}

// Step is one compiled pipeline step. The expression-versus-literal decision
// for every configuration entry was made here, at construction, so the
// request path never re-detects markers.
type Step struct {
	Name     string
	UnitName string
	Unit     runtime.Unit
	Config   []ConfigEntry
}

// ConfigEntry is one `with` entry. Expr non-nil marks an expression binding;
// otherwise Literal passes through unchanged.
type ConfigEntry struct {
	Key     string
	Literal any
	Expr    *expr.Expr
}

// Registry maps interface/method keys to compiled pipelines. It is built
// once per configuration snapshot and read-only afterwards, so concurrent
// lookups need no locking.
type Registry struct {
	pipelines map[string]*Pipeline
}

// NewRegistry compiles the bus document's pipelines against the available
// computation units. Unknown units, duplicate step names, and malformed
// expression sources all fail construction; nothing is validated lazily.
func NewRegistry(doc *config.Document, units *UnitRegistry) (*Registry, error) {
	pipelines := make(map[string]*Pipeline)

	for interfaceName, methods := range doc.Interfaces {
		for methodName, op := range methods {
			pipeline, err := compilePipeline(interfaceName, methodName, op, units)
			if err != nil {
				return nil, err
			}
			pipelines[domain.RouteKey(interfaceName, methodName)] = pipeline
		}
	}

	return &Registry{pipelines: pipelines}, nil
}

// Resolve returns the pipeline registered for the route, or a
// domain.ErrRouteNotFound failure.
func (r *Registry) Resolve(interfaceName, methodName string) (*Pipeline, error) {
	pipeline, ok := r.pipelines[domain.RouteKey(interfaceName, methodName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrRouteNotFound, interfaceName, methodName)
	}
	return pipeline, nil
}

// Len reports how many routes are registered.
func (r *Registry) Len() int {
	return len(r.pipelines)
}

func compilePipeline(interfaceName, methodName string, op config.OperationSpec, units *UnitRegistry) (*Pipeline, error) {
	route := interfaceName + "/" + methodName

	steps := make([]Step, 0, len(op.Steps))
	seen := make(map[string]bool, len(op.Steps))

	for _, spec := range op.Steps {
		// "input" and "steps" are roots of the data context; a step with
		// either name could never be referenced by its own output.
		if spec.Name == "input" || spec.Name == "steps" {
			return nil, fmt.Errorf("%s: step name %q is reserved", route, spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%s: %w: %q", route, domain.ErrDuplicateStep, spec.Name)
		}
		seen[spec.Name] = true

		unit, ok := units.Resolve(spec.Uses)
		if !ok {
			return nil, fmt.Errorf("%s step %q: %w: %q", route, spec.Name, domain.ErrUnknownUnit, spec.Uses)
		}

		entries := make([]ConfigEntry, 0, len(spec.With))
		for key, value := range spec.With {
			entry := ConfigEntry{Key: key, Literal: value}
			if text, ok := value.(string); ok {
				if source, ok := expr.FromTemplate(text); ok {
					compiled, err := astCache.Parse(source)
					if err != nil {
						return nil, fmt.Errorf("%s step %q with %q: %w", route, spec.Name, key, err)
					}
					entry = ConfigEntry{Key: key, Expr: compiled}
				}
			}
			entries = append(entries, entry)
		}

		steps = append(steps, Step{
			Name:     spec.Name,
			UnitName: spec.Uses,
			Unit:     unit,
			Config:   entries,
		})
	}

	if op.Output != "" && !seen[op.Output] {
		return nil, fmt.Errorf("%s: %w: %q", route, domain.ErrInvalidOutput, op.Output)
	}

	return &Pipeline{
		Interface: interfaceName,
		Method:    methodName,
		Steps:     steps,
		Output:    op.Output,
	}, nil
}
