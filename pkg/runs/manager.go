// Package runs manages the lifecycle of workflow runs: idempotent creation and compare-and-set
// status transitions.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
)

// IdempotencyKey derives the deterministic key of a rule activation for one real-world event.
func IdempotencyKey(ruleID string, triggerType models.TriggerType, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", ruleID, triggerType, eventID)
}

// CreateRunRequest carries what is needed to start a run for a matched rule.
type CreateRunRequest struct {
	Rule           *models.AutomationRule
	TriggerContext models.TriggerContext
	TriggeredBy    string
}

// Manager drives run state through the store. Every transition is a compare-and-set on the
// stored status; an illegal transition returns persistence.ErrInvalidTransition and changes nothing.
type Manager struct {
	runs   persistence.RunRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(runs persistence.RunRepository, logger *slog.Logger) *Manager {
	return &Manager{
		runs:   runs,
		logger: logger.With("module", "runs"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun creates a PENDING run unless a non-terminal run already holds the idempotency key.
// It returns (existing, false, nil) when such a run is found, (nil, false, nil) when a concurrent
// creator won the race, and (run, true, nil) when this call created the run.
func (m *Manager) CreateRun(ctx context.Context, req CreateRunRequest) (*models.WorkflowRun, bool, error) {
	key := IdempotencyKey(req.Rule.ID, req.TriggerContext.TriggerType, req.TriggerContext.EventID)

	existing, err := m.runs.ActiveRunByIdempotencyKey(ctx, key)
	if err == nil {
		m.logger.DebugContext(ctx, "active run already holds idempotency key", "run_id", existing.ID, "key", key)

		return existing, false, nil
	}

	if !persistence.IsRunNotFound(err) {
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate run ID: %w", err)
	}

	run := &models.WorkflowRun{
		ID:               id.String(),
		AutomationRuleID: req.Rule.ID,
		OrganizationID:   req.Rule.OrganizationID,
		Status:           models.RunStatusPending,
		TriggerContext:   req.TriggerContext,
		IdempotencyKey:   key,
		StepResults:      []models.StepResult{},
		TriggeredBy:      req.TriggeredBy,
		CreatedAt:        m.now(),
	}

	err = m.runs.CreateRun(ctx, run)
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicateIdempotencyKey) {
			m.logger.DebugContext(ctx, "lost idempotency race", "key", key)

			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}

	return run, true, nil
}

// StartRun moves a PENDING run to RUNNING and stamps startedAt.
func (m *Manager) StartRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	now := m.now()

	return m.transition(ctx, runID, []models.RunStatus{models.RunStatusPending}, persistence.RunUpdate{
		Status:    models.RunStatusRunning,
		StartedAt: &now,
	})
}

// UpdateRunStep appends a step result and advances currentStepId. Only valid while RUNNING.
func (m *Manager) UpdateRunStep(ctx context.Context, runID, stepID string, data map[string]any) (*models.WorkflowRun, error) {
	return m.transition(ctx, runID, []models.RunStatus{models.RunStatusRunning}, persistence.RunUpdate{
		CurrentStepID: &stepID,
		AppendResult:  &models.StepResult{StepID: stepID, Data: data, RecordedAt: m.now()},
	})
}

// SetWaitingApproval pauses a RUNNING run.
func (m *Manager) SetWaitingApproval(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return m.transition(ctx, runID, []models.RunStatus{models.RunStatusRunning}, persistence.RunUpdate{
		Status: models.RunStatusWaitingApproval,
	})
}

// ResumeRun moves a WAITING_APPROVAL run back to RUNNING.
func (m *Manager) ResumeRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return m.transition(ctx, runID, []models.RunStatus{models.RunStatusWaitingApproval}, persistence.RunUpdate{
		Status: models.RunStatusRunning,
	})
}

// CompleteRun finishes a RUNNING run.
func (m *Manager) CompleteRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	now := m.now()

	return m.transition(ctx, runID, []models.RunStatus{models.RunStatusRunning}, persistence.RunUpdate{
		Status:      models.RunStatusCompleted,
		CompletedAt: &now,
	})
}

// FailRun marks a non-terminal run FAILED with reason.
func (m *Manager) FailRun(ctx context.Context, runID, reason string) (*models.WorkflowRun, error) {
	now := m.now()

	if reason == "" {
		reason = "unknown failure"
	}

	return m.transition(ctx, runID, models.NonTerminalStatuses(), persistence.RunUpdate{
		Status:        models.RunStatusFailed,
		FailureReason: reason,
		CompletedAt:   &now,
	})
}

// CancelRun cancels a PENDING, RUNNING or WAITING_APPROVAL run.
func (m *Manager) CancelRun(ctx context.Context, runID, reason string) (*models.WorkflowRun, error) {
	now := m.now()

	if reason == "" {
		reason = "cancelled"
	}

	return m.transition(ctx, runID, models.NonTerminalStatuses(), persistence.RunUpdate{
		Status:        models.RunStatusCancelled,
		FailureReason: reason,
		CompletedAt:   &now,
	})
}

// GetRun returns the stored run.
func (m *Manager) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return m.runs.RunByID(ctx, runID)
}

// ListRuns lists stored runs.
func (m *Manager) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error) {
	return m.runs.ListRuns(ctx, filter)
}

func (m *Manager) transition(
	ctx context.Context,
	runID string,
	from []models.RunStatus,
	update persistence.RunUpdate,
) (*models.WorkflowRun, error) {
	run, err := m.runs.TransitionRun(ctx, runID, from, update)
	if err != nil {
		return nil, err
	}

	if update.Status != "" {
		m.logger.DebugContext(ctx, "run transitioned", "run_id", runID, "status", update.Status)
	}

	return run, nil
}
