package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "PENDING"
	RunStatusRunning         RunStatus = "RUNNING"
	RunStatusWaitingApproval RunStatus = "WAITING_APPROVAL"
	RunStatusCompleted       RunStatus = "COMPLETED"
	RunStatusFailed          RunStatus = "FAILED"
	RunStatusCancelled       RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses lists the statuses that keep an idempotency key reserved.
func NonTerminalStatuses() []RunStatus {
	return []RunStatus{RunStatusPending, RunStatusRunning, RunStatusWaitingApproval}
}

// TriggerContext captures the event that created a run. It is never modified after creation.
type TriggerContext struct {
	TriggerType TriggerType    `json:"triggerType"`
	EventID     string         `json:"eventId"`
	Metadata    map[string]any `json:"metadata"`
}

// StepResult is the recorded outcome of one executed step. Results are append-only.
type StepResult struct {
	StepID     string         `json:"stepId"`
	Data       map[string]any `json:"data"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// WorkflowRun is one execution of an automation rule for one triggering event.
type WorkflowRun struct {
	ID               string         `json:"id"`
	AutomationRuleID string         `json:"automationRuleId"`
	OrganizationID   string         `json:"organizationId"`
	Status           RunStatus      `json:"status"`
	TriggerContext   TriggerContext `json:"triggerContext"`
	IdempotencyKey   string         `json:"idempotencyKey"`
	CurrentStepID    string         `json:"currentStepId,omitempty"`
	StepResults      []StepResult   `json:"stepResults"`
	TriggeredBy      string         `json:"triggeredBy,omitempty"`
	FailureReason    string         `json:"failureReason,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

// LatestResult returns the most recent result recorded for stepID.
func (r *WorkflowRun) LatestResult(stepID string) (StepResult, bool) {
	return LatestResult(r.StepResults, stepID)
}

// LatestResult returns the most recent result for stepID in results.
func LatestResult(results []StepResult, stepID string) (StepResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StepID == stepID {
			return results[i], true
		}
	}

	return StepResult{}, false
}

// Clone returns a deep enough copy of the run for callers that must not share slices with a store.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}

	clone := *r
	clone.StepResults = append([]StepResult(nil), r.StepResults...)

	if r.StartedAt != nil {
		t := *r.StartedAt
		clone.StartedAt = &t
	}

	if r.CompletedAt != nil {
		t := *r.CompletedAt
		clone.CompletedAt = &t
	}

	return &clone
}
