package actions

import (
	"context"
	"errors"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// Recipient is one resolved target of a multi-target action.
type Recipient = template.Recipient

// ErrTemplateNotFound is returned by a TemplateStore for unknown template ids.
var ErrTemplateNotFound = errors.New("template not found")

type Email struct {
	OrganizationID string    `json:"organizationId"`
	CampaignID     string    `json:"campaignId,omitempty"`
	To             Recipient `json:"to"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
}

type FormRequest struct {
	OrganizationID   string    `json:"organizationId"`
	FormDefinitionID string    `json:"formDefinitionId"`
	Recipient        Recipient `json:"recipient"`
	Message          string    `json:"message,omitempty"`
	DueInDays        int       `json:"dueInDays,omitempty"`
	LineageID        string    `json:"lineageId,omitempty"`
}

type ReportRequest struct {
	OrganizationID string         `json:"organizationId"`
	ReportType     string         `json:"reportType"`
	ConfigID       string         `json:"configId,omitempty"`
	Format         string         `json:"format,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
}

type TaskRequest struct {
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	AssigneeID     string `json:"assigneeId,omitempty"`
	DueInDays      int    `json:"dueInDays,omitempty"`
	LineageID      string `json:"lineageId,omitempty"`
	RunID          string `json:"runId,omitempty"`
}

type ReconciliationRequest struct {
	OrganizationID   string `json:"organizationId"`
	ReconciliationID string `json:"reconciliationId"`
	Resolution       string `json:"resolution"`
	Note             string `json:"note,omitempty"`
	ResolvedBy       string `json:"resolvedBy"`
}

// Template is stored message content. Subject and Body are rendered per recipient.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	SendEmail(ctx context.Context, email Email) (string, error)
}

type RequestSender interface {
	SendRequest(ctx context.Context, request FormRequest) (string, error)
}

type ReportGenerator interface {
	GenerateReport(ctx context.Context, request ReportRequest) (string, error)
}

type TaskService interface {
	CreateTask(ctx context.Context, request TaskRequest) (string, error)
}

type Reconciler interface {
	ResolveReconciliation(ctx context.Context, request ReconciliationRequest) error
}

// ContactDirectory resolves tenant contacts by group or by contact type.
type ContactDirectory interface {
	ContactsByGroup(ctx context.Context, organizationID, groupID string) ([]Recipient, error)
	ContactsByType(ctx context.Context, organizationID, contactType string) ([]Recipient, error)
}

// DataRowSource returns the rows of an uploaded data set.
type DataRowSource interface {
	Rows(ctx context.Context, organizationID, configID string) ([]map[string]any, error)
}

// RecipientHistory returns who received the same action in the previous period of a lineage.
type RecipientHistory interface {
	PriorRecipients(ctx context.Context, organizationID, lineageID string, actionType models.ActionType) ([]Recipient, error)
}

type TemplateStore interface {
	Template(ctx context.Context, organizationID, templateID string) (*Template, error)
}

// Collaborators groups the external systems handlers call. A nil collaborator makes the
// actions that need it fail with a "not configured" reason.
type Collaborators struct {
	Mailer    Mailer
	Requests  RequestSender
	Reports   ReportGenerator
	Tasks     TaskService
	Reconcile Reconciler
	Contacts  ContactDirectory
	DataRows  DataRowSource
	History   RecipientHistory
	Templates TemplateStore
}
