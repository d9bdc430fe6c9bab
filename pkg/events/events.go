// Package events defines the messages exchanged on the event bus: inbound commands for the
// worker and run lifecycle notifications published by the engine.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "autoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound commands consumed by the worker.
	TriggerReceivedEvent    EventType = "trigger.received"
	ApprovalGrantedEvent    EventType = "approval.granted"
	RunCancelRequestedEvent EventType = "run.cancel.requested"

	// Run lifecycle notifications.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"
	RunCancelledEvent EventType = "run.cancelled"
)

// LifecycleEventTypes lists the notifications published on run transitions.
func LifecycleEventTypes() []EventType {
	return []EventType{
		RunStartedEvent,
		RunCompletedEvent,
		RunFailedEvent,
		RunPausedEvent,
		RunResumedEvent,
		RunCancelledEvent,
	}
}

type BaseEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID string    `json:"organizationId"`
}

func NewBaseEvent(eventType EventType, organizationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
	}
}

// TriggerReceived asks the worker to dispatch a business event.
type TriggerReceived struct {
	BaseEvent

	TriggerType models.TriggerType `json:"triggerType"`
	EventID     string             `json:"eventId"`
	TriggeredBy string             `json:"triggeredBy,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

func (TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

func NewTriggerReceived(
	organizationID string,
	triggerType models.TriggerType,
	eventID, triggeredBy string,
	metadata map[string]any,
) TriggerReceived {
	return TriggerReceived{
		BaseEvent:   NewBaseEvent(TriggerReceivedEvent, organizationID),
		TriggerType: triggerType,
		EventID:     eventID,
		TriggeredBy: triggeredBy,
		Metadata:    metadata,
	}
}

// ApprovalGranted resumes a run paused on an approval step.
type ApprovalGranted struct {
	BaseEvent

	RunID      string `json:"runId"`
	ApprovedBy string `json:"approvedBy"`
}

func (ApprovalGranted) GetType() EventType {
	return ApprovalGrantedEvent
}

type RunCancelRequested struct {
	BaseEvent

	RunID       string `json:"runId"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

func (RunCancelRequested) GetType() EventType {
	return RunCancelRequestedEvent
}

// RunLifecycle is published on every run transition. Type tells which one.
type RunLifecycle struct {
	BaseEvent

	RunID            string           `json:"runId"`
	AutomationRuleID string           `json:"automationRuleId"`
	Status           models.RunStatus `json:"status"`
	StepID           string           `json:"stepId,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

func (e RunLifecycle) GetType() EventType {
	return e.Type
}

func NewRunLifecycle(eventType EventType, run *models.WorkflowRun, reason string) RunLifecycle {
	return RunLifecycle{
		BaseEvent:        NewBaseEvent(eventType, run.OrganizationID),
		RunID:            run.ID,
		AutomationRuleID: run.AutomationRuleID,
		Status:           run.Status,
		StepID:           run.CurrentStepID,
		Reason:           reason,
	}
}
