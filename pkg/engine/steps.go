package engine

import (
	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/navigator"
)

func nextStep(rule *models.AutomationRule, run *models.WorkflowRun) models.Step {
	return navigator.GetNextStep(rule.Definition, run.CurrentStepID, run.StepResults)
}

func actionContext(run *models.WorkflowRun, stepID string) models.ActionContext {
	var lineageID string
	if value, ok := run.TriggerContext.Metadata["lineageId"]; ok && value != nil {
		lineageID = conditions.ToString(value)
	}

	return models.ActionContext{
		OrganizationID: run.OrganizationID,
		TriggeredBy:    run.TriggeredBy,
		TriggerContext: run.TriggerContext,
		LineageID:      lineageID,
		RunID:          run.ID,
		StepID:         stepID,
		StepResults:    run.StepResults,
	}
}

func auditEntry(run *models.WorkflowRun, step *models.ActionStep, result models.ActionResult) *models.AuditLogEntry {
	entry := &models.AuditLogEntry{
		WorkflowRunID:  run.ID,
		OrganizationID: run.OrganizationID,
		StepID:         step.ID,
		ActionType:     step.ActionType,
		TargetType:     result.TargetType,
		TargetID:       result.TargetID,
		Outcome:        models.OutcomeOf(result),
		Detail:         map[string]any{},
		ActorType:      models.ActorUser,
		ActorID:        run.TriggeredBy,
	}

	if models.IsSystemActor(run.TriggeredBy) {
		entry.ActorType = models.ActorSystem
		entry.ActorID = models.SystemActor
	}

	if result.Error != "" {
		entry.Detail["error"] = result.Error
	}

	for _, key := range []string{"sent", "attempted", "failures"} {
		if value, ok := result.Data[key]; ok {
			entry.Detail[key] = value
		}
	}

	return entry
}
