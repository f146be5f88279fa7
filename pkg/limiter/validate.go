package limiter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"

	"github.com/flowforge/startlimit/pkg/model"
)

// limitSpec is the immutable, compiled form of a definition. It is swapped
// atomically on refresh so readers never need the entry lock.
type limitSpec struct {
	def       *model.LimitDefinition
	predicate Compiled
	cost      Compiled
}

// prepare validates def and compiles its expressions. The returned spec
// carries a normalized copy of def.
func (r *Registry) prepare(def *model.LimitDefinition) (*limitSpec, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", ErrInvalidDefinition)
	}

	normalized := *def
	normalized.Tag = strings.TrimSpace(def.Tag)
	normalized.Name = strings.TrimSpace(def.Name)
	if normalized.Name == "" {
		normalized.Name = normalized.Tag
	}

	var result *multierror.Error

	if normalized.Tag == "" {
		result = multierror.Append(result, fmt.Errorf("tag is required"))
	} else if hasSpace(normalized.Tag) {
		result = multierror.Append(result, fmt.Errorf("tag %q must not contain whitespace", normalized.Tag))
	}
	if hasSpace(normalized.Name) {
		result = multierror.Append(result, fmt.Errorf("name %q must not contain whitespace", normalized.Name))
	}
	if normalized.Count <= 0 {
		result = multierror.Append(result, fmt.Errorf("count must be positive, got %d", normalized.Count))
	}
	if normalized.Window <= 0 {
		result = multierror.Append(result, fmt.Errorf("window must be positive, got %d", normalized.Window))
	}
	if normalized.Burst < 0 {
		result = multierror.Append(result, fmt.Errorf("burst must not be negative, got %d", normalized.Burst))
	}
	if normalized.MaxBurstCost < 0 {
		result = multierror.Append(result, fmt.Errorf("max burst cost must not be negative, got %d", normalized.MaxBurstCost))
	}
	if normalized.ExpiresAfter <= 0 {
		result = multierror.Append(result, fmt.Errorf("expires must be positive, got %d", normalized.ExpiresAfter))
	} else if ceiling := r.MaxExpires(); ceiling > 0 && normalized.ExpiresDuration() > ceiling {
		result = multierror.Append(result, fmt.Errorf("%w: %ds > %ds", ErrExpiresTooLong, normalized.ExpiresAfter, int64(ceiling.Seconds())))
	}

	spec := &limitSpec{def: &normalized}

	predicate, err := r.matcher.Compile(normalized.PredicateExpr)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("%w: predicate: %v", ErrInvalidExpression, err))
	}
	spec.predicate = predicate

	if strings.TrimSpace(normalized.CostExpr) != "" {
		cost, err := r.matcher.Compile(normalized.CostExpr)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: cost: %v", ErrInvalidExpression, err))
		}
		spec.cost = cost
	}

	if result != nil {
		result.ErrorFormat = listFormat
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, result)
	}
	return spec, nil
}

func listFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
