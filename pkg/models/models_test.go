package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefinition_TypedSteps(t *testing.T) {
	doc := `{"steps": [
		{"id": "check", "type": "condition", "field": "trigger.amount", "operator": "gt", "value": 100, "onTrue": "notify"},
		{"id": "notify", "type": "action", "actionType": "send_email", "actionParams": {"campaignId": "c1"}, "nextStepId": "approve"},
		{"id": "approve", "type": "approval", "approvers": ["u1"], "message": "please review"}
	]}`

	def, err := DecodeDefinition([]byte(doc))
	require.NoError(t, err)
	require.Len(t, def.Steps, 3)

	cond, ok := def.Steps[0].(*ConditionStep)
	require.True(t, ok)
	assert.Equal(t, "trigger.amount", cond.Field)
	assert.Equal(t, OperatorGt, cond.Operator)
	assert.InDelta(t, 100.0, cond.Value, 0)
	assert.Equal(t, "notify", cond.OnTrue)

	action, ok := def.Steps[1].(*ActionStep)
	require.True(t, ok)
	assert.Equal(t, ActionSendEmail, action.ActionType)
	assert.Equal(t, "c1", action.ActionParams["campaignId"])
	assert.Equal(t, "approve", action.NextStep())

	approval, ok := def.Steps[2].(*ApprovalStep)
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, approval.Approvers)
	assert.Equal(t, StepTypeApproval, approval.Type())
}

func TestDecodeDefinition_BareArrayAndNull(t *testing.T) {
	def, err := DecodeDefinition([]byte(`[{"id": "a", "type": "action", "actionType": "create_task"}]`))
	require.NoError(t, err)
	assert.Len(t, def.Steps, 1)

	def, err = DecodeDefinition([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, def.Steps)
}

func TestDecodeDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown step type", `{"steps": [{"id": "a", "type": "loop"}]}`},
		{"missing id", `{"steps": [{"type": "action", "actionType": "send_email"}]}`},
		{"action without action type", `{"steps": [{"id": "a", "type": "action"}]}`},
		{"condition without field", `{"steps": [{"id": "a", "type": "condition", "operator": "eq"}]}`},
		{"duplicate ids", `{"steps": [{"id": "a", "type": "approval"}, {"id": "a", "type": "approval"}]}`},
		{"steps not an array", `{"steps": {"id": "a"}}`},
		{"next step not a string", `{"steps": [{"id": "a", "type": "approval", "nextStepId": 3}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDefinition([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestDefinition_JSONRoundTripThroughRule(t *testing.T) {
	rule := AutomationRule{
		ID:             "rule-1",
		OrganizationID: "org-1",
		TriggerType:    TriggerBoardCompleted,
		Definition: Definition{Steps: []Step{
			&ActionStep{ID: "a", ActionType: ActionCreateTask, ActionParams: map[string]any{"title": "x"}},
			&ConditionStep{ID: "b", Field: "steps.a.success", Operator: OperatorEq, Value: true, OnFalse: "a"},
		}},
		IsActive: true,
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var decoded AutomationRule
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Definition.Steps, 2)
	assert.Equal(t, 1, decoded.Definition.IndexOf("b"))

	step, ok := decoded.Definition.Find("b")
	require.True(t, ok)
	assert.Equal(t, "a", step.(*ConditionStep).OnFalse)

	_, ok = decoded.Definition.Find("missing")
	assert.False(t, ok)
}

func TestDecodeConditions(t *testing.T) {
	board, err := DecodeConditions[BoardConditions](json.RawMessage(`{"boardCadence": "monthly", "configId": 42}`))
	require.NoError(t, err)
	require.NotNil(t, board.BoardCadence)
	assert.Equal(t, Scalar("monthly"), *board.BoardCadence)
	assert.Equal(t, Scalar("42"), *board.ConfigID)
	assert.Nil(t, board.TargetStatus)

	empty, err := DecodeConditions[FormConditions](nil)
	require.NoError(t, err)
	assert.Nil(t, empty.FormDefinitionID)

	_, err = DecodeConditions[UploadConditions](json.RawMessage(`{"configId": {"nested": true}}`))
	require.ErrorIs(t, err, ErrInvalidConditions)

	_, err = DecodeConditions[ScheduleConditions](json.RawMessage(`{"timezone": "UTC"}`))
	require.ErrorIs(t, err, ErrInvalidConditions)

	_, err = DecodeConditions[BoardConditions](json.RawMessage(`[1, 2]`))
	require.ErrorIs(t, err, ErrInvalidConditions)
}

func TestScalar_Matches(t *testing.T) {
	monthly := Scalar("monthly")
	number := Scalar("7")

	empty := Scalar("")

	var absent *Scalar

	assert.True(t, absent.Matches(map[string]any{}, "cadence"))
	assert.True(t, empty.Matches(map[string]any{}, "cadence"))
	assert.True(t, empty.Matches(map[string]any{"cadence": "weekly"}, "cadence"))
	assert.True(t, monthly.Matches(map[string]any{"cadence": "monthly"}, "cadence"))
	assert.False(t, monthly.Matches(map[string]any{"cadence": "quarterly"}, "cadence"))
	assert.False(t, monthly.Matches(map[string]any{}, "cadence"))
	assert.True(t, number.Matches(map[string]any{"configId": float64(7)}, "configId"))
	assert.False(t, number.Matches(map[string]any{"configId": []any{7}}, "configId"))
}

func TestActionResult_ToMapAndOutcome(t *testing.T) {
	result := ActionResult{Success: true, Data: map[string]any{"sent": 2}, TargetType: "email_campaign", TargetID: "c1"}
	assert.Equal(t, map[string]any{
		"success":    true,
		"data":       map[string]any{"sent": 2},
		"targetType": "email_campaign",
		"targetId":   "c1",
	}, result.ToMap())
	assert.Equal(t, AuditOutcomeSuccess, OutcomeOf(result))

	assert.Equal(t, AuditOutcomeSkipped, OutcomeOf(ActionResult{Success: true, Skipped: true}))
	assert.Equal(t, AuditOutcomeFailed, OutcomeOf(ActionResult{Error: "boom"}))
	assert.Equal(t, map[string]any{"success": false, "error": "boom"}, ActionResult{Error: "boom"}.ToMap())
}

func TestActionType_Keys(t *testing.T) {
	for _, actionType := range ActionTypes() {
		assert.NotEmpty(t, actionType.PermissionKey(), actionType)
		assert.NotEmpty(t, actionType.TargetType(), actionType)
	}

	assert.Empty(t, ActionType("teleport").PermissionKey())
	assert.Equal(t, "email.send", ActionSendEmail.PermissionKey())
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatusWaitingApproval.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
}

func TestLatestResult(t *testing.T) {
	results := []StepResult{
		{StepID: "a", Data: map[string]any{"n": 1}},
		{StepID: "b", Data: map[string]any{"n": 2}},
		{StepID: "a", Data: map[string]any{"n": 3}},
	}

	latest, ok := LatestResult(results, "a")
	require.True(t, ok)
	assert.Equal(t, 3, latest.Data["n"])

	_, ok = LatestResult(results, "c")
	assert.False(t, ok)
}

func TestTriggerTypeAndActor(t *testing.T) {
	assert.True(t, TriggerScheduled.Valid())
	assert.False(t, TriggerType("webhook").Valid())
	assert.True(t, TriggerBoardStatusChanged.IsBoardLifecycle())
	assert.False(t, TriggerDataUploaded.IsBoardLifecycle())

	assert.True(t, ActionContext{}.IsSystem())
	assert.True(t, ActionContext{TriggeredBy: "system"}.IsSystem())
	assert.False(t, ActionContext{TriggeredBy: "user-1"}.IsSystem())
}
