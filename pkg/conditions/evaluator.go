// Package conditions evaluates trigger condition lists against event payloads.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arborops/canopy/pkg/models"
)

// Supported condition operators.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "gte"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "lte"
	OpContains           = "contains"
	OpIn                 = "in"
	OpNotIn              = "not_in"
	OpExists             = "exists"
)

// Evaluate returns true when every condition holds against the payload. An
// empty condition list always passes. Unknown operators and missing fields
// evaluate to false so a malformed condition disqualifies the trigger
// instead of crashing the processor. Evaluate is pure: it never mutates the
// payload and has no side effects.
func Evaluate(conditions []models.Condition, payload map[string]any) bool {
	for _, condition := range conditions {
		if !evaluateOne(condition, payload) {
			return false
		}
	}

	return true
}

func evaluateOne(condition models.Condition, payload map[string]any) bool {
	value, found := lookupField(payload, condition.Field)

	if condition.Operator == OpExists {
		return found
	}

	if !found {
		return false
	}

	switch condition.Operator {
	case OpEquals:
		return looseEquals(value, condition.Value)
	case OpNotEquals:
		return !looseEquals(value, condition.Value)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return compareNumeric(condition.Operator, value, condition.Value)
	case OpContains:
		return contains(value, condition.Value)
	case OpIn:
		return member(condition.Value, value)
	case OpNotIn:
		set, ok := toSlice(condition.Value)
		if !ok {
			return false
		}

		for _, candidate := range set {
			if looseEquals(value, candidate) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// lookupField resolves a dotted path through nested payload maps.
func lookupField(payload map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}

	parts := strings.Split(field, ".")

	var current any = payload

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// looseEquals compares values after normalizing to strings, so payload
// numbers decoded as float64 still match condition values stored as ints or
// strings.
func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}

	na, aok := toFloat(a)
	nb, bok := toFloat(b)

	if aok && bok {
		return na == nb
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(operator string, left, right any) bool {
	a, aok := toFloat(left)
	b, bok := toFloat(right)

	if !aok || !bok {
		return false
	}

	switch operator {
	case OpGreaterThan:
		return a > b
	case OpGreaterThanOrEqual:
		return a >= b
	case OpLessThan:
		return a < b
	case OpLessThanOrEqual:
		return a <= b
	default:
		return false
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	default:
		items, ok := toSlice(haystack)
		if !ok {
			return false
		}

		for _, item := range items {
			if looseEquals(item, needle) {
				return true
			}
		}

		return false
	}
}

func member(set, candidate any) bool {
	items, ok := toSlice(set)
	if !ok {
		return false
	}

	for _, item := range items {
		if looseEquals(candidate, item) {
			return true
		}
	}

	return false
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}

		return items, true
	default:
		return nil, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
