package authorize

import (
	"context"
	"fmt"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// ruleQuery is the decision entrypoint a route rule must define: a module in
// package nanobus.authz exposing a boolean `allow`.
const ruleQuery = "data.nanobus.authz.allow"

// regoRule is a compiled per-route Rego rule. Evaluation is in-memory and
// performs no I/O; input carries the route identity and the caller claims.
type regoRule struct {
	prepared rego.PreparedEvalQuery
}

func compileRule(ctx context.Context, source string) (*regoRule, error) {
	r := rego.New(
		rego.Query(ruleQuery),
		rego.Module("route_rule.rego", source),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego rule: %w", err)
	}

	return &regoRule{prepared: prepared}, nil
}

func (r *regoRule) allow(ctx context.Context, input map[string]any) (bool, error) {
	results, err := r.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate rego rule: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
