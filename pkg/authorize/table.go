// Package authorize implements the deny-by-default access gate consulted
// once per invocation, before any pipeline step runs. The policy table is
// immutable after construction; hot reload replaces the whole table.
package authorize

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/shazaibn/nanobus/pkg/domain"
)

// Semantics selects how multiple requirements combine.
type Semantics string

const (
	// MatchAll requires every declared requirement to hold (the default).
	MatchAll Semantics = "all"
	// MatchAny requires at least one declared requirement to hold.
	MatchAny Semantics = "any"
)

// Policy is one route's access entry. A route with no entry at all is denied;
// Unauthenticated short-circuits to allow regardless of claims.
type Policy struct {
	Unauthenticated bool           `yaml:"unauthenticated" json:"unauthenticated"`
	Match           Semantics      `yaml:"match" json:"match"`
	Has             []string       `yaml:"has" json:"has"`
	Checks          map[string]any `yaml:"checks" json:"checks"`
	Rule            string         `yaml:"rule" json:"rule"`

	rule *regoRule
}

// Table is the per-route policy table. Construction compiles any Rego rules
// so malformed policy fails startup rather than a request.
type Table struct {
	policies map[string]Policy
}

// NewTable builds an immutable policy table from per-interface, per-method
// entries. Rule compilation errors are fatal to construction.
func NewTable(ctx context.Context, entries map[string]map[string]Policy) (*Table, error) {
	policies := make(map[string]Policy)
	for interfaceName, methods := range entries {
		for methodName, policy := range methods {
			if policy.Match == "" {
				policy.Match = MatchAll
			}
			if policy.Match != MatchAll && policy.Match != MatchAny {
				return nil, fmt.Errorf("authorization %s/%s: unknown match semantics %q",
					interfaceName, methodName, policy.Match)
			}
			if policy.Rule != "" {
				compiled, err := compileRule(ctx, policy.Rule)
				if err != nil {
					return nil, fmt.Errorf("authorization %s/%s: %w", interfaceName, methodName, err)
				}
				policy.rule = compiled
			}
			policies[domain.RouteKey(interfaceName, methodName)] = policy
		}
	}
	return &Table{policies: policies}, nil
}

// Check decides whether the caller may invoke the route. A nil return means
// allow; any other return is a *Denial. The decision is a pure function of
// the table and the claims and performs no I/O.
func (t *Table) Check(ctx context.Context, interfaceName, methodName string, claims domain.Claims) error {
	policy, ok := t.policies[domain.RouteKey(interfaceName, methodName)]
	if !ok {
		// Deny-by-default: absence of an entry is itself the decision.
		return NewDenial("no authorization policy registered for route")
	}

	if policy.Unauthenticated {
		return nil
	}

	results := t.evaluate(ctx, policy, interfaceName, methodName, claims)
	if len(results) == 0 {
		// An authenticated entry that declares nothing grants nothing.
		return NewDenial("authorization policy declares no requirements")
	}

	switch policy.Match {
	case MatchAny:
		if slices.Contains(results, true) {
			return nil
		}
	default:
		if !slices.Contains(results, false) {
			return nil
		}
	}

	return NewDenial("caller claims do not satisfy route policy")
}

func (t *Table) evaluate(ctx context.Context, policy Policy, interfaceName, methodName string, claims domain.Claims) []bool {
	var results []bool

	perms := claims.Permissions()
	for _, name := range policy.Has {
		results = append(results, claims.Has(name) || slices.Contains(perms, name))
	}

	for key, want := range policy.Checks {
		// Checks values come from YAML and claims from decoded JSON; either
		// side may hold non-comparable types (lists, maps), which == panics on.
		results = append(results, claims != nil && reflect.DeepEqual(claims[key], want))
	}

	if policy.rule != nil {
		allowed, err := policy.rule.allow(ctx, map[string]any{
			"interface": interfaceName,
			"method":    methodName,
			"claims":    map[string]any(claims),
		})
		results = append(results, err == nil && allowed)
	}

	return results
}

// Denial is the fixed error shape carried by every authorization rejection.
// Transport adapters serialize it as-is; it never exposes policy internals.
type Denial struct {
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	reason string
}

// NewDenial constructs a denial with the stable shape. The reason is kept for
// logs only and is not part of the serialized form.
func NewDenial(reason string) *Denial {
	return &Denial{
		Type:      "PermissionDenied",
		Code:      string(domain.KindPermissionDenied),
		Status:    domain.StatusOf(domain.KindPermissionDenied),
		Timestamp: time.Now().UTC(),
		reason:    reason,
	}
}

func (d *Denial) Error() string {
	return "permission denied: " + d.reason
}

// Unwrap ties denials into the domain sentinel so errors.Is works.
func (d *Denial) Unwrap() error {
	return domain.ErrPermissionDenied
}

// FailureKind implements domain.Kinder.
func (d *Denial) FailureKind() domain.FailureKind {
	return domain.KindPermissionDenied
}

// Reason returns the internal denial reason for logging.
func (d *Denial) Reason() string {
	return d.reason
}
