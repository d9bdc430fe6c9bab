// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/runs"
	"github.com/google/uuid"
)

// CreateTestRule creates an active data_uploaded rule of org-1 with one create_task step.
func CreateTestRule(overrides ...func(*models.AutomationRule)) *models.AutomationRule {
	rule := &models.AutomationRule{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		Name:           "Test Rule",
		TriggerType:    models.TriggerDataUploaded,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	WithDefinition(`[{"id": "task", "type": "action", "actionType": "create_task", "actionParams": {"title": "test"}}]`)(rule)

	for _, override := range overrides {
		override(rule)
	}

	return rule
}

// WithID sets the rule ID.
func WithID(id string) func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		r.ID = id
	}
}

// WithOrganization sets the owning tenant.
func WithOrganization(organizationID string) func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		r.OrganizationID = organizationID
	}
}

func WithTriggerType(triggerType models.TriggerType) func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		r.TriggerType = triggerType
	}
}

// WithConditions sets the raw conditions document.
func WithConditions(conditions string) func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		r.Conditions = json.RawMessage(conditions)
	}
}

// WithDefinition decodes definition, either {"steps": [...]} or a bare array. It panics on an invalid document.
func WithDefinition(definition string) func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		def, err := models.DecodeDefinition([]byte(definition))
		if err != nil {
			panic("testutil: " + err.Error())
		}

		r.Definition = def
	}
}

// WithInactive marks the rule inactive.
func WithInactive() func(*models.AutomationRule) {
	return func(r *models.AutomationRule) {
		r.IsActive = false
	}
}

// ApprovalDefinition pauses on an approval step before a create_task step.
const ApprovalDefinition = `[
	{"id": "approve", "type": "approval", "approvers": ["user-1"], "message": "close the board?"},
	{"id": "task", "type": "action", "actionType": "create_task", "actionParams": {"title": "archive"}}
]`

// CreateTestRun creates a PENDING run of rule for eventID, keyed the way the run manager keys it.
func CreateTestRun(rule *models.AutomationRule, eventID string) *models.WorkflowRun {
	return &models.WorkflowRun{
		ID:               uuid.New().String(),
		OrganizationID:   rule.OrganizationID,
		AutomationRuleID: rule.ID,
		Status:           models.RunStatusPending,
		TriggerContext: models.TriggerContext{
			TriggerType: rule.TriggerType,
			EventID:     eventID,
			Metadata:    map[string]any{},
		},
		IdempotencyKey: runs.IdempotencyKey(rule.ID, rule.TriggerType, eventID),
		StepResults:    []models.StepResult{},
		CreatedAt:      time.Now().UTC(),
	}
}
