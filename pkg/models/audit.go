package models

import "time"

// AuditOutcome is the recorded result of an executed action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailed  AuditOutcome = "failed"
	AuditOutcomeSkipped AuditOutcome = "skipped"
)

// ActorType tells whether an audited action ran for the system or a user.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
)

// AuditLogEntry is an append-only record of one action execution.
type AuditLogEntry struct {
	ID             string         `json:"id"`
	WorkflowRunID  string         `json:"workflowRunId"`
	OrganizationID string         `json:"organizationId"`
	StepID         string         `json:"stepId"`
	ActionType     ActionType     `json:"actionType"`
	TargetType     string         `json:"targetType,omitempty"`
	TargetID       string         `json:"targetId,omitempty"`
	Outcome        AuditOutcome   `json:"outcome"`
	Detail         map[string]any `json:"detail,omitempty"`
	ActorType      ActorType      `json:"actorType"`
	ActorID        string         `json:"actorId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// OutcomeOf maps an action result to its audit outcome.
func OutcomeOf(result ActionResult) AuditOutcome {
	switch {
	case !result.Success:
		return AuditOutcomeFailed
	case result.Skipped:
		return AuditOutcomeSkipped
	default:
		return AuditOutcomeSuccess
	}
}
