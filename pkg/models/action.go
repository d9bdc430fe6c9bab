package models

// ActionType names a side-effecting business operation an action step can perform.
type ActionType string

const (
	ActionSendRequest           ActionType = "send_request"
	ActionSendEmail             ActionType = "send_email"
	ActionGenerateReport        ActionType = "generate_report"
	ActionCreateTask            ActionType = "create_task"
	ActionResolveReconciliation ActionType = "resolve_reconciliation"
)

// ActionTypes lists every supported action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionSendRequest,
		ActionSendEmail,
		ActionGenerateReport,
		ActionCreateTask,
		ActionResolveReconciliation,
	}
}

// PermissionKey returns the permission an actor needs to perform the action, or "" for unknown types.
func (a ActionType) PermissionKey() string {
	switch a {
	case ActionSendRequest:
		return "request.send"
	case ActionSendEmail:
		return "email.send"
	case ActionGenerateReport:
		return "report.generate"
	case ActionCreateTask:
		return "task.create"
	case ActionResolveReconciliation:
		return "reconciliation.resolve"
	default:
		return ""
	}
}

// TargetType returns the kind of entity the action acts on.
func (a ActionType) TargetType() string {
	switch a {
	case ActionSendRequest:
		return "form_definition"
	case ActionSendEmail:
		return "email_campaign"
	case ActionGenerateReport:
		return "report"
	case ActionCreateTask:
		return "task"
	case ActionResolveReconciliation:
		return "reconciliation"
	default:
		return ""
	}
}

// ActionResult is the normalized outcome of dispatching an action.
type ActionResult struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	TargetType string         `json:"targetType,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
}

// ToMap renders the result as the data recorded on a step result.
func (r ActionResult) ToMap() map[string]any {
	out := map[string]any{"success": r.Success}

	if r.Data != nil {
		out["data"] = r.Data
	}

	if r.Error != "" {
		out["error"] = r.Error
	}

	if r.TargetType != "" {
		out["targetType"] = r.TargetType
	}

	if r.TargetID != "" {
		out["targetId"] = r.TargetID
	}

	if r.Skipped {
		out["skipped"] = true
	}

	return out
}

// SystemActor is the triggeredBy value used for events not caused by a user.
const SystemActor = "system"

// ActionContext carries the run-scoped facts an action handler may need.
type ActionContext struct {
	OrganizationID string
	TriggeredBy    string
	TriggerContext TriggerContext
	LineageID      string
	RunID          string
	StepID         string
	StepResults    []StepResult
}

// IsSystem reports whether the action runs on behalf of the system rather than a user.
func (c ActionContext) IsSystem() bool {
	return IsSystemActor(c.TriggeredBy)
}

// IsSystemActor reports whether triggeredBy denotes a system trigger.
func IsSystemActor(triggeredBy string) bool {
	return triggeredBy == "" || triggeredBy == SystemActor
}
