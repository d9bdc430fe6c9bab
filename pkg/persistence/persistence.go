// Package persistence provides the storage abstraction for automation rules, workflow runs and the audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type Persistence interface {
	Rules() RuleRepository
	Runs() RunRepository
	Audit() AuditRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// RuleRepository reads tenant automation rules. The engine never writes rules; SaveRule exists for seeding.
type RuleRepository interface {
	// ActiveRules returns the active rules of one tenant for one trigger type.
	ActiveRules(ctx context.Context, organizationID string, triggerType models.TriggerType) ([]*models.AutomationRule, error)

	// ActiveRulesByTrigger returns the active rules of every tenant for one trigger type.
	ActiveRulesByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error)

	RuleByID(ctx context.Context, id string) (*models.AutomationRule, error)
	AllRules(ctx context.Context) ([]*models.AutomationRule, error)
	SaveRule(ctx context.Context, rule *models.AutomationRule) error
}

// RunUpdate describes the changes applied by one run transition. Zero fields are left untouched.
type RunUpdate struct {
	Status        models.RunStatus
	CurrentStepID *string
	AppendResult  *models.StepResult
	FailureReason string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// RunFilter narrows a run listing. Zero fields match everything.
type RunFilter struct {
	OrganizationID   string
	AutomationRuleID string
	Status           models.RunStatus
	Limit            int
}

// RunRepository stores workflow runs.
type RunRepository interface {
	// CreateRun inserts a new run. It returns ErrDuplicateIdempotencyKey when another
	// non-terminal run already holds the same idempotency key.
	CreateRun(ctx context.Context, run *models.WorkflowRun) error

	RunByID(ctx context.Context, id string) (*models.WorkflowRun, error)

	// ActiveRunByIdempotencyKey returns the non-terminal run holding key, or ErrRunNotFound.
	ActiveRunByIdempotencyKey(ctx context.Context, key string) (*models.WorkflowRun, error)

	// TransitionRun applies update only if the stored status is one of from, atomically.
	// It returns ErrInvalidTransition when the status does not match and ErrRunNotFound when the run is missing.
	TransitionRun(ctx context.Context, id string, from []models.RunStatus, update RunUpdate) (*models.WorkflowRun, error)

	ListRuns(ctx context.Context, filter RunFilter) ([]*models.WorkflowRun, error)
}

// AuditRepository is the durable sink of the audit trail.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) error
	AuditByRun(ctx context.Context, runID string) ([]*models.AuditLogEntry, error)
}

// Apply copies the non-zero fields of u onto run.
func (u RunUpdate) Apply(run *models.WorkflowRun) {
	if u.Status != "" {
		run.Status = u.Status
	}

	if u.CurrentStepID != nil {
		run.CurrentStepID = *u.CurrentStepID
	}

	if u.AppendResult != nil {
		run.StepResults = append(run.StepResults, *u.AppendResult)
	}

	if u.FailureReason != "" {
		run.FailureReason = u.FailureReason
	}

	if u.StartedAt != nil {
		run.StartedAt = u.StartedAt
	}

	if u.CompletedAt != nil {
		run.CompletedAt = u.CompletedAt
	}
}
