package mocks

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockRuleRepository is a mock implementation of persistence.RuleRepository interface.
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) ActiveRules(
	ctx context.Context,
	organizationID string,
	triggerType models.TriggerType,
) ([]*models.AutomationRule, error) {
	args := m.Called(ctx, organizationID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AutomationRule), args.Error(1)
}

func (m *MockRuleRepository) ActiveRulesByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error) {
	args := m.Called(ctx, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AutomationRule), args.Error(1)
}

func (m *MockRuleRepository) RuleByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.AutomationRule), args.Error(1)
}

func (m *MockRuleRepository) AllRules(ctx context.Context) ([]*models.AutomationRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AutomationRule), args.Error(1)
}

func (m *MockRuleRepository) SaveRule(ctx context.Context, rule *models.AutomationRule) error {
	args := m.Called(ctx, rule)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) RunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) ActiveRunByIdempotencyKey(ctx context.Context, key string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) TransitionRun(
	ctx context.Context,
	id string,
	from []models.RunStatus,
	update persistence.RunUpdate,
) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id, from, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

// MockAuditRepository is a mock implementation of persistence.AuditRepository interface.
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) error {
	args := m.Called(ctx, entries)

	return args.Error(0)
}

func (m *MockAuditRepository) AuditByRun(ctx context.Context, runID string) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AuditLogEntry), args.Error(1)
}
