package conditions_test

import (
	"math"
	"testing"

	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trigger(metadata map[string]any) models.TriggerContext {
	return models.TriggerContext{TriggerType: models.TriggerDataUploaded, EventID: "evt", Metadata: metadata}
}

func TestEvaluate_TriggerAmount(t *testing.T) {
	cond := models.Condition{Field: "trigger.amount", Operator: models.OperatorGt, Value: 100}

	assert.True(t, conditions.Evaluate(cond, nil, trigger(map[string]any{"amount": 150})))
	assert.False(t, conditions.Evaluate(cond, nil, trigger(map[string]any{"amount": 50})))
	assert.False(t, conditions.Evaluate(cond, nil, trigger(map[string]any{})))
	assert.False(t, conditions.Evaluate(cond, nil, trigger(nil)))
}

func TestEvaluate_Operators(t *testing.T) {
	metadata := map[string]any{
		"amount":   float64(100),
		"label":    "quarterly close",
		"approved": true,
		"empty":    "",
		"text":     "abc",
		"nothing":  nil,
	}

	tests := []struct {
		name     string
		field    string
		operator models.Operator
		value    any
		expected bool
	}{
		{"gte equal", "trigger.amount", models.OperatorGte, 100, true},
		{"lte equal", "trigger.amount", models.OperatorLte, "100", true},
		{"lt", "trigger.amount", models.OperatorLt, 99.5, false},
		{"numeric string coerces", "trigger.amount", models.OperatorGt, "99", true},
		{"bool coerces to one", "trigger.approved", models.OperatorGte, 1, true},
		{"empty string coerces to zero", "trigger.empty", models.OperatorLt, 1, true},
		{"NaN compares false", "trigger.text", models.OperatorGt, 0, false},
		{"NaN compares false inverted", "trigger.text", models.OperatorLte, 0, false},
		{"eq on string forms", "trigger.amount", models.OperatorEq, "100", true},
		{"eq bool", "trigger.approved", models.OperatorEq, "true", true},
		{"neq", "trigger.label", models.OperatorNeq, "monthly close", true},
		{"contains", "trigger.label", models.OperatorContains, "quarter", true},
		{"contains miss", "trigger.label", models.OperatorContains, "annual", false},
		{"unknown operator", "trigger.amount", models.Operator("between"), 100, false},
		{"null is undefined", "trigger.nothing", models.OperatorEq, "null", false},
		{"unknown prefix", "board.amount", models.OperatorEq, 100, false},
		{"walk through scalar", "trigger.amount.value", models.OperatorEq, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := models.Condition{Field: tt.field, Operator: tt.operator, Value: tt.value}
			assert.Equal(t, tt.expected, conditions.Evaluate(cond, nil, trigger(metadata)))
		})
	}
}

func TestResolve_StepResults(t *testing.T) {
	results := []models.StepResult{
		{StepID: "send", Data: map[string]any{"success": false}},
		{StepID: "send", Data: map[string]any{
			"success": true,
			"data":    map[string]any{"sent": float64(3), "ids": []any{"a", "b"}},
		}},
	}

	value, ok := conditions.Resolve("steps.send.success", results, trigger(nil))
	require.True(t, ok)
	assert.Equal(t, true, value)

	value, ok = conditions.Resolve("steps.send.data.sent", results, trigger(nil))
	require.True(t, ok)
	assert.InDelta(t, 3.0, value, 0)

	value, ok = conditions.Resolve("steps.send.data.ids.1", results, trigger(nil))
	require.True(t, ok)
	assert.Equal(t, "b", value)

	_, ok = conditions.Resolve("steps.send.data.ids.7", results, trigger(nil))
	assert.False(t, ok)

	_, ok = conditions.Resolve("steps.other.success", results, trigger(nil))
	assert.False(t, ok)

	_, ok = conditions.Resolve("steps", results, trigger(nil))
	assert.False(t, ok)

	cond := models.Condition{Field: "steps.send.data.sent", Operator: models.OperatorGte, Value: 3}
	assert.True(t, conditions.Evaluate(cond, results, trigger(nil)))
}

func TestCoercion(t *testing.T) {
	assert.InDelta(t, 0.0, conditions.ToNumber(""), 0)
	assert.InDelta(t, 1.0, conditions.ToNumber(true), 0)
	assert.InDelta(t, 42.5, conditions.ToNumber(" 42.5 "), 0)
	assert.True(t, math.IsNaN(conditions.ToNumber("abc")))
	assert.True(t, math.IsNaN(conditions.ToNumber(map[string]any{})))

	assert.Equal(t, "150", conditions.ToString(float64(150)))
	assert.Equal(t, "false", conditions.ToString(false))
	assert.Equal(t, `{"a":1}`, conditions.ToString(map[string]any{"a": 1}))
}
