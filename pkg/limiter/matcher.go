package limiter

import (
	"github.com/flowforge/startlimit/pkg/expr"
	"github.com/flowforge/startlimit/pkg/model"
)

// Matcher compiles predicate and cost expressions.
type Matcher interface {
	Compile(src string) (Compiled, error)
}

// Compiled is an expression ready to be evaluated against a pairing.
type Compiled interface {
	Predicate(job, machine model.Ad) expr.Result
	Cost(job, machine model.Ad) expr.Result
	String() string
}

// HCLMatcher compiles expressions in HCL native syntax.
type HCLMatcher struct{}

func (HCLMatcher) Compile(src string) (Compiled, error) {
	e, err := expr.Parse(src)
	if err != nil {
		return nil, err
	}
	return e, nil
}
