// Package web provides the HTTP request and response types of the automation API.
package web

import (
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
)

// ResumeRunRequest is the body of POST /runs/:id/resume.
type ResumeRunRequest struct {
	ApprovedBy string `json:"approvedBy" validate:"required"`
}

// CancelRunRequest is the body of POST /runs/:id/cancel. The body is optional.
type CancelRunRequest struct {
	Reason string `json:"reason"`
}

// TriggerResponse is returned by POST /triggers.
type TriggerResponse struct {
	engine.DispatchResult
	EventID string `json:"eventId"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs  []*models.WorkflowRun `json:"runs"`
	Count int                   `json:"count"`
}
