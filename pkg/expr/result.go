package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/zclconf/go-cty/cty"

	"github.com/flowforge/startlimit/pkg/model"
)

type Kind int

const (
	Undefined Kind = iota
	True
	False
	Value
	Error
)

func (k Kind) String() string {
	switch k {
	case True:
		return "true"
	case False:
		return "false"
	case Value:
		return "value"
	case Error:
		return "error"
	default:
		return "undefined"
	}
}

// Result is the outcome of one evaluation. Number is only meaningful when
// Kind is Value; Err only when Kind is Error.
type Result struct {
	Kind   Kind
	Number float64
	Err    error
}

// Applies folds a predicate result to the admission question. Only a known
// true applies; Undefined and Error are both "not applicable".
func (r Result) Applies() bool {
	return r.Kind == True
}

func adValue(ad model.Ad) cty.Value {
	if len(ad) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(ad))
	for k, v := range ad {
		attrs[k] = toValue(v)
	}
	return cty.ObjectVal(attrs)
}

func toValue(v interface{}) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(t)
	case bool:
		return cty.BoolVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case int32:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case uint:
		return cty.NumberUIntVal(uint64(t))
	case uint32:
		return cty.NumberUIntVal(uint64(t))
	case uint64:
		return cty.NumberUIntVal(t)
	case float32:
		return floatValue(float64(t))
	case float64:
		return floatValue(t)
	case json.Number:
		f, ok := new(big.Float).SetString(t.String())
		if !ok {
			return cty.StringVal(t.String())
		}
		return cty.NumberVal(f)
	case []interface{}:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, item := range t {
			vals[i] = toValue(item)
		}
		return cty.TupleVal(vals)
	case []string:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, item := range t {
			vals[i] = cty.StringVal(item)
		}
		return cty.TupleVal(vals)
	case map[string]interface{}:
		return adValue(model.Ad(t))
	case model.Ad:
		return adValue(t)
	default:
		return cty.StringVal(fmt.Sprint(t))
	}
}

// floatValue maps NaN and the infinities to null.
func floatValue(f float64) cty.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cty.NullVal(cty.Number)
	}
	return cty.NumberFloatVal(f)
}
