// Package expr evaluates limit predicates and cost expressions written in HCL
// native syntax. Two scopes are bound for every evaluation: JOB and MACHINE,
// each an object built from the candidate's attributes.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/flowforge/startlimit/pkg/model"
)

const (
	ScopeJob     = "JOB"
	ScopeMachine = "MACHINE"
)

var ErrEmptyExpression = errors.New("expression is empty")

var functions = map[string]function.Function{
	"lower":  stdlib.LowerFunc,
	"upper":  stdlib.UpperFunc,
	"strlen": stdlib.StrlenFunc,
	"min":    stdlib.MinFunc,
	"max":    stdlib.MaxFunc,
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
}

// Expression is a parsed predicate or cost expression. It is safe for
// concurrent use; evaluation never mutates it.
type Expression struct {
	src  string
	expr hclsyntax.Expression
}

// Parse compiles src and checks that it only refers to the JOB and MACHINE
// scopes and to known functions.
func Parse(src string) (*Expression, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, ErrEmptyExpression
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(trimmed), "limit", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", trimmed, diags.Error())
	}

	for _, traversal := range parsed.Variables() {
		root := traversal.RootName()
		if root != ScopeJob && root != ScopeMachine {
			return nil, fmt.Errorf("parse %q: unknown scope %q, expected %s or %s", trimmed, root, ScopeJob, ScopeMachine)
		}
	}

	var unknownFunc string
	hclsyntax.VisitAll(parsed, func(node hclsyntax.Node) hcl.Diagnostics {
		if call, ok := node.(*hclsyntax.FunctionCallExpr); ok && unknownFunc == "" {
			if _, known := functions[call.Name]; !known {
				unknownFunc = call.Name
			}
		}
		return nil
	})
	if unknownFunc != "" {
		return nil, fmt.Errorf("parse %q: unknown function %q", trimmed, unknownFunc)
	}

	return &Expression{src: trimmed, expr: parsed}, nil
}

func (e *Expression) String() string {
	return e.src
}

// Predicate evaluates the expression as a boolean. Anything other than a
// known boolean comes back as Undefined or Error.
func (e *Expression) Predicate(job, machine model.Ad) Result {
	value, res, ok := e.eval(job, machine)
	if !ok {
		return res
	}
	if value.Type() != cty.Bool {
		return Result{Kind: Undefined}
	}
	if value.True() {
		return Result{Kind: True}
	}
	return Result{Kind: False}
}

// Cost evaluates the expression as a finite, non-negative number.
func (e *Expression) Cost(job, machine model.Ad) Result {
	value, res, ok := e.eval(job, machine)
	if !ok {
		return res
	}
	if value.Type() != cty.Number {
		return Result{Kind: Undefined}
	}
	bf := value.AsBigFloat()
	if bf.IsInf() {
		return Result{Kind: Error, Err: fmt.Errorf("cost of %q is infinite", e.src)}
	}
	f, _ := bf.Float64()
	if math.IsInf(f, 0) {
		return Result{Kind: Error, Err: fmt.Errorf("cost of %q overflows", e.src)}
	}
	if f < 0 {
		return Result{Kind: Error, Err: fmt.Errorf("cost %v is negative", f)}
	}
	return Result{Kind: Value, Number: f}
}

func (e *Expression) eval(job, machine model.Ad) (cty.Value, Result, bool) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			ScopeJob:     adValue(job),
			ScopeMachine: adValue(machine),
		},
		Functions: functions,
	}

	value, diags := evalSafely(e.expr, ctx)
	if diags.HasErrors() {
		if undefinedReference(diags) {
			return cty.NilVal, Result{Kind: Undefined}, false
		}
		return cty.NilVal, Result{Kind: Error, Err: errors.New(diags.Error())}, false
	}
	if value.IsNull() || !value.IsWhollyKnown() {
		return cty.NilVal, Result{Kind: Undefined}, false
	}
	return value, Result{}, true
}

// evalSafely turns an evaluator panic into a diagnostic so a single broken
// expression can never take down the negotiation pass.
func evalSafely(expr hclsyntax.Expression, ctx *hcl.EvalContext) (value cty.Value, diags hcl.Diagnostics) {
	defer func() {
		if r := recover(); r != nil {
			value = cty.NilVal
			diags = hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Evaluation fault",
				Detail:   fmt.Sprint(r),
			}}
		}
	}()
	return expr.Value(ctx)
}

func undefinedReference(diags hcl.Diagnostics) bool {
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			continue
		}
		switch diag.Summary {
		case "Unsupported attribute", "Invalid index", "Missing map element":
		default:
			return false
		}
	}
	return true
}
