// Package policy evaluates regulation-specific compliance flags with OPA.
// The default rule set ships embedded; deployments may point
// COMPLIANCE_POLICY_PATH at their own bundle as long as it exposes the same
// result document.
package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/thependalorian/buffrsign-sub001/internal/usecase"

	"github.com/open-policy-agent/opa/rego"
)

const resultQuery = "data.buffrsign.compliance.result"

//go:embed compliance.rego
var defaultPolicy string

type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the embedded default rule set.
func NewEngine(ctx context.Context) (*Engine, error) {
	r := rego.New(
		rego.Query(resultQuery),
		rego.Module("compliance.rego", defaultPolicy),
		rego.StrictBuiltinErrors(true),
	)
	return prepare(ctx, r)
}

// NewEngineFromPath compiles an operator-supplied rule bundle.
func NewEngineFromPath(ctx context.Context, bundlePath string) (*Engine, error) {
	if bundlePath == "" {
		return nil, errors.New("policy bundle path required")
	}
	r := rego.New(
		rego.Query(resultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	return prepare(ctx, r)
}

func prepare(ctx context.Context, r *rego.Rego) (*Engine, error) {
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare compliance policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

// Evaluate runs the rule set over tabulated chain facts and returns the
// boolean flag document for the requested regulation.
func (e *Engine) Evaluate(ctx context.Context, input usecase.FlagInput) (map[string]bool, error) {
	if e == nil {
		return nil, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, errors.New("empty policy result")
	}
	raw, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("policy result is %T, want object", results[0].Expressions[0].Value)
	}
	flags := make(map[string]bool, len(raw))
	for name, value := range raw {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("policy flag %q is %T, want bool", name, value)
		}
		flags[name] = b
	}
	return flags, nil
}
