package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type node interface {
	eval(vars map[string]any) any
}

type literal struct{ value any }

func (n literal) eval(map[string]any) any { return n.value }

type path struct{ parts []string }

func (n path) eval(vars map[string]any) any {
	return Lookup(vars, strings.Join(n.parts, "."))
}

type negate struct{ inner node }

func (n negate) eval(vars map[string]any) any { return !IsTruthy(n.inner.eval(vars)) }

type logical struct {
	and         bool
	left, right node
}

func (n logical) eval(vars map[string]any) any {
	l := IsTruthy(n.left.eval(vars))
	if n.and {
		return l && IsTruthy(n.right.eval(vars))
	}
	return l || IsTruthy(n.right.eval(vars))
}

type comparison struct {
	op          BinaryOp
	left, right node
}

func (n comparison) eval(vars map[string]any) any {
	return n.op(n.left.eval(vars), n.right.eval(vars))
}

// Lookup resolves a dotted path through nested maps. An exact key match wins
// over traversal, so flattened variables like "order.stage" also resolve.
// Missing paths return nil.
func Lookup(vars map[string]any, key string) any {
	if v, ok := vars[key]; ok {
		return v
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return nil
	}
	switch child := vars[head].(type) {
	case map[string]any:
		return Lookup(child, rest)
	case map[string]string:
		if v, ok := child[rest]; ok {
			return v
		}
	}
	return nil
}

// IsTruthy returns whether a value is truthy.
// nil is false, bools return their value, empty strings are false,
// zero numbers are false, everything else is true.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// ToFloat64 converts a value for numeric comparison.
// Returns 0 for values that cannot be converted.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}

func printed(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func equals(l, r any) bool {
	return printed(l) == printed(r)
}

func contains(l, r any) bool {
	if list, ok := l.([]any); ok {
		for _, item := range list {
			if equals(item, r) {
				return true
			}
		}
		return false
	}
	return strings.Contains(printed(l), printed(r))
}
