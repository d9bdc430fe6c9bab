package actions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

// LogCollaborator stands in for every outbound system by logging what would have been sent.
type LogCollaborator struct {
	logger *slog.Logger
}

func NewLogCollaborator(logger *slog.Logger) *LogCollaborator {
	return &LogCollaborator{logger: logger.With("module", "log_collaborator")}
}

// LogCollaborators wires a LogCollaborator into every outbound slot and an empty template store.
func LogCollaborators(logger *slog.Logger) Collaborators {
	collab := NewLogCollaborator(logger)

	return Collaborators{
		Mailer:    collab,
		Requests:  collab,
		Reports:   collab,
		Tasks:     collab,
		Reconcile: collab,
		Templates: NewTemplateStore(),
	}
}

func (c *LogCollaborator) SendEmail(ctx context.Context, email Email) (string, error) {
	id := uuid.NewString()
	c.logger.InfoContext(ctx, "email", "id", id, "organization_id", email.OrganizationID, "to", email.To.Email, "subject", email.Subject)

	return id, nil
}

func (c *LogCollaborator) SendRequest(ctx context.Context, request FormRequest) (string, error) {
	id := uuid.NewString()
	c.logger.InfoContext(ctx, "form request",
		"id", id,
		"organization_id", request.OrganizationID,
		"form_definition_id", request.FormDefinitionID,
		"to", request.Recipient.Email,
	)

	return id, nil
}

func (c *LogCollaborator) GenerateReport(ctx context.Context, request ReportRequest) (string, error) {
	id := uuid.NewString()
	c.logger.InfoContext(ctx, "report", "id", id, "organization_id", request.OrganizationID, "report_type", request.ReportType)

	return id, nil
}

func (c *LogCollaborator) CreateTask(ctx context.Context, request TaskRequest) (string, error) {
	id := uuid.NewString()
	c.logger.InfoContext(ctx, "task", "id", id, "organization_id", request.OrganizationID, "title", request.Title)

	return id, nil
}

func (c *LogCollaborator) ResolveReconciliation(ctx context.Context, request ReconciliationRequest) error {
	c.logger.InfoContext(ctx, "reconciliation resolved",
		"organization_id", request.OrganizationID,
		"reconciliation_id", request.ReconciliationID,
		"resolution", request.Resolution,
	)

	return nil
}

// MemoryTemplateStore keeps templates per organization.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]map[string]Template
}

func NewTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: map[string]map[string]Template{}}
}

func (s *MemoryTemplateStore) Put(organizationID string, tmpl Template) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.templates[organizationID] == nil {
		s.templates[organizationID] = map[string]Template{}
	}

	s.templates[organizationID][tmpl.ID] = tmpl
}

func (s *MemoryTemplateStore) Template(_ context.Context, organizationID, templateID string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[organizationID][templateID]
	if !ok {
		return nil, ErrTemplateNotFound
	}

	return &tmpl, nil
}

// StaticContacts is an in-memory ContactDirectory and RecipientHistory.
type StaticContacts struct {
	mu     sync.RWMutex
	groups map[string][]Recipient
	types  map[string][]Recipient
	prior  map[string][]Recipient
}

func NewStaticContacts() *StaticContacts {
	return &StaticContacts{
		groups: map[string][]Recipient{},
		types:  map[string][]Recipient{},
		prior:  map[string][]Recipient{},
	}
}

func (s *StaticContacts) AddGroup(organizationID, groupID string, recipients ...Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := organizationID + "/" + groupID
	s.groups[key] = append(s.groups[key], recipients...)
}

func (s *StaticContacts) AddType(organizationID, contactType string, recipients ...Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := organizationID + "/" + contactType
	s.types[key] = append(s.types[key], recipients...)
}

func (s *StaticContacts) AddPrior(organizationID, lineageID string, actionType models.ActionType, recipients ...Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := organizationID + "/" + lineageID + "/" + string(actionType)
	s.prior[key] = append(s.prior[key], recipients...)
}

func (s *StaticContacts) ContactsByGroup(_ context.Context, organizationID, groupID string) ([]Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Recipient(nil), s.groups[organizationID+"/"+groupID]...), nil
}

func (s *StaticContacts) ContactsByType(_ context.Context, organizationID, contactType string) ([]Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Recipient(nil), s.types[organizationID+"/"+contactType]...), nil
}

func (s *StaticContacts) PriorRecipients(
	_ context.Context,
	organizationID, lineageID string,
	actionType models.ActionType,
) ([]Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Recipient(nil), s.prior[organizationID+"/"+lineageID+"/"+string(actionType)]...), nil
}

// StaticRows is an in-memory DataRowSource.
type StaticRows struct {
	mu   sync.RWMutex
	rows map[string][]map[string]any
}

func NewStaticRows() *StaticRows {
	return &StaticRows{rows: map[string][]map[string]any{}}
}

func (s *StaticRows) AddRows(organizationID, configID string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := organizationID + "/" + configID
	s.rows[key] = append(s.rows[key], rows...)
}

func (s *StaticRows) Rows(_ context.Context, organizationID, configID string) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]map[string]any(nil), s.rows[organizationID+"/"+configID]...), nil
}
