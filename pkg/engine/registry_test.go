package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazaibn/nanobus/pkg/config"
	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/engine/runtime"
)

func testUnits(t *testing.T) *UnitRegistry {
	t.Helper()
	units := NewUnitRegistry()
	units.RegisterBuiltins(slog.Default())
	return units
}

func parseDoc(t *testing.T, source string) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(source))
	require.NoError(t, err)
	return doc
}

func TestRegistry_CompileAndResolve(t *testing.T) {
	doc := parseDoc(t, `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: expr
          with:
            value: "${'Hello, ' + input.name + '!'}"
`)

	registry, err := NewRegistry(doc, testUnits(t))
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())

	pipeline, err := registry.Resolve("greeter", "say_hello")
	require.NoError(t, err)
	assert.Equal(t, "greeter", pipeline.Interface)
	require.Len(t, pipeline.Steps, 1)

	step := pipeline.Steps[0]
	assert.Equal(t, "expr", step.UnitName)
	require.Len(t, step.Config, 1)
	assert.NotNil(t, step.Config[0].Expr, "template values compile to expressions")
}

func TestRegistry_LiteralsStayLiteral(t *testing.T) {
	doc := parseDoc(t, `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: expr
          with:
            value: "just text with ${markers} inside"
            count: 7
`)

	registry, err := NewRegistry(doc, testUnits(t))
	require.NoError(t, err)

	pipeline, err := registry.Resolve("greeter", "say_hello")
	require.NoError(t, err)

	for _, entry := range pipeline.Steps[0].Config {
		assert.Nil(t, entry.Expr, "entry %q should be literal", entry.Key)
	}
}

func TestRegistry_UnknownUnit(t *testing.T) {
	doc := parseDoc(t, `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: no_such_unit
`)

	_, err := NewRegistry(doc, testUnits(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownUnit))
}

func TestRegistry_MalformedExpressionFailsConstruction(t *testing.T) {
	doc := parseDoc(t, `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: expr
          with:
            value: "${input.name +}"
`)

	_, err := NewRegistry(doc, testUnits(t))
	require.Error(t, err)
}

func TestRegistry_ReservedStepNames(t *testing.T) {
	for _, name := range []string{"input", "steps"} {
		doc := parseDoc(t, `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: `+name+`
          uses: expr
          with:
            value: shadowed
`)

		_, err := NewRegistry(doc, testUnits(t))
		require.Error(t, err, "step name %q must be rejected", name)
	}
}

func TestRegistry_DuplicateStepNames(t *testing.T) {
	// Hand-built documents bypass the loader's validation; the registry
	// still refuses duplicates.
	doc := &config.Document{
		Interfaces: map[string]config.InterfaceSpec{
			"greeter": {
				"say_hello": config.OperationSpec{
					Steps: []config.StepSpec{
						{Name: "step1", Uses: "expr"},
						{Name: "step1", Uses: "expr"},
					},
				},
			},
		},
	}

	_, err := NewRegistry(doc, testUnits(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateStep))
}

func TestRegistry_ResolveUnknownRoute(t *testing.T) {
	registry, err := NewRegistry(&config.Document{}, testUnits(t))
	require.NoError(t, err)

	_, err = registry.Resolve("greeter", "say_hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRouteNotFound))
	assert.Equal(t, domain.KindRouteNotFound, domain.KindOf(err))
}

func TestUnitRegistry_Register(t *testing.T) {
	units := NewUnitRegistry()

	unit := runtime.UnitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, nil
	})

	require.NoError(t, units.Register("custom", unit))
	assert.Error(t, units.Register("custom", unit), "rebinding a name must fail")
	assert.Error(t, units.Register("", unit))
	assert.Error(t, units.Register("nil_unit", nil))

	_, ok := units.Resolve("custom")
	assert.True(t, ok)
	_, ok = units.Resolve("absent")
	assert.False(t, ok)
}
