package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTriggerReceived(t *testing.T) {
	event := NewTriggerReceived("org-1", models.TriggerFormSubmitted, "evt-1", "user-1",
		map[string]any{"formDefinitionId": "F1"})

	assert.Equal(t, TriggerReceivedEvent, event.GetType())
	assert.Equal(t, TriggerReceivedEvent, event.Type)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded TriggerReceived
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "org-1", decoded.OrganizationID)
	assert.Equal(t, "F1", decoded.Metadata["formDefinitionId"])
}

func TestNewRunLifecycle(t *testing.T) {
	run := &models.WorkflowRun{
		ID:               "run-1",
		AutomationRuleID: "rule-1",
		OrganizationID:   "org-1",
		Status:           models.RunStatusFailed,
		CurrentStepID:    "s2",
	}

	event := NewRunLifecycle(RunFailedEvent, run, "template missing")

	assert.Equal(t, RunFailedEvent, event.GetType())
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "s2", event.StepID)
	assert.Equal(t, "template missing", event.Reason)
	assert.Len(t, LifecycleEventTypes(), 6)
}
