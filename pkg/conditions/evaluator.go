// Package conditions evaluates condition-step comparisons against a run's recorded step results
// and its trigger metadata.
package conditions

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
)

const (
	stepsPrefix   = "steps"
	triggerPrefix = "trigger"
)

// Evaluate resolves cond.Field and compares it to cond.Value. It never fails: an unresolvable
// field, an uncoercible number or an unknown operator all evaluate to false.
func Evaluate(cond models.Condition, results []models.StepResult, trigger models.TriggerContext) bool {
	actual, ok := Resolve(cond.Field, results, trigger)
	if !ok {
		return false
	}

	switch cond.Operator {
	case models.OperatorGt:
		return ToNumber(actual) > ToNumber(cond.Value)
	case models.OperatorLt:
		return ToNumber(actual) < ToNumber(cond.Value)
	case models.OperatorGte:
		return ToNumber(actual) >= ToNumber(cond.Value)
	case models.OperatorLte:
		return ToNumber(actual) <= ToNumber(cond.Value)
	case models.OperatorEq:
		return ToString(actual) == ToString(cond.Value)
	case models.OperatorNeq:
		return ToString(actual) != ToString(cond.Value)
	case models.OperatorContains:
		return strings.Contains(ToString(actual), ToString(cond.Value))
	default:
		return false
	}
}

// Resolve looks up a dotted field path. "steps.<id>.<path>" reads the latest result recorded for
// step <id>; "trigger.<path>" reads the trigger metadata. A null value counts as unresolved.
func Resolve(field string, results []models.StepResult, trigger models.TriggerContext) (any, bool) {
	parts := strings.Split(field, ".")

	var (
		root any
		path []string
	)

	switch {
	case parts[0] == stepsPrefix && len(parts) >= 2:
		result, ok := models.LatestResult(results, parts[1])
		if !ok {
			return nil, false
		}

		root, path = result.Data, parts[2:]
	case parts[0] == triggerPrefix:
		root, path = trigger.Metadata, parts[1:]
	default:
		return nil, false
	}

	value, ok := walk(root, path)
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

func walk(current any, path []string) (any, bool) {
	for _, key := range path {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(key)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	// a typed nil map is still "no value"
	if m, ok := current.(map[string]any); ok && m == nil {
		return nil, false
	}

	return current, true
}

// ToNumber coerces v the way loosely typed documents expect: booleans become 1 or 0, an empty
// string becomes 0, and anything unparseable becomes NaN.
func ToNumber(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return math.NaN()
		}

		return f
	case bool:
		if value {
			return 1
		}

		return 0
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0
		}

		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}

		return f
	default:
		return math.NaN()
	}
}

// ToString renders v as a comparison string. Scalars use their natural form; composite values
// are rendered as JSON.
func ToString(v any) string {
	if v == nil {
		return "null"
	}

	if s, ok := models.ScalarString(v); ok {
		return s
	}

	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return string(b)
}
