package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const runColumns = `
			id
		  , automation_rule_id
		  , organization_id
		  , status
		  , trigger_context
		  , idempotency_key
		  , current_step_id
		  , step_results
		  , triggered_by
		  , failure_reason
		  , created_at
		  , started_at
		  , completed_at`

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateRun inserts a run. The partial unique index on idempotency_key turns a concurrent
// duplicate into ErrDuplicateIdempotencyKey.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	triggerJSON, err := json.Marshal(run.TriggerContext)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger context: %w", err)
	}

	results := run.StepResults
	if results == nil {
		results = []models.StepResult{}
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (
			id, automation_rule_id, organization_id, status, trigger_context, idempotency_key,
			current_step_id, step_results, triggered_by, failure_reason, created_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.AutomationRuleID,
		run.OrganizationID,
		string(run.Status),
		string(triggerJSON),
		run.IdempotencyKey,
		nullString(run.CurrentStepID),
		string(resultsJSON),
		nullString(run.TriggeredBy),
		nullString(run.FailureReason),
		run.CreatedAt,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrDuplicateIdempotencyKey)
		}

		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) RunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := `SELECT` + runColumns + `
		FROM workflow_runs
		WHERE id = $1
	`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("RunByID", id, err)
	}

	return run, nil
}

func (r *RunRepository) ActiveRunByIdempotencyKey(ctx context.Context, key string) (*models.WorkflowRun, error) {
	query := `SELECT` + runColumns + `
		FROM workflow_runs
		WHERE idempotency_key = $1 AND status IN ('PENDING', 'RUNNING', 'WAITING_APPROVAL')
		LIMIT 1
	`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("ActiveRunByIdempotencyKey", key, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("ActiveRunByIdempotencyKey", key, err)
	}

	return run, nil
}

// TransitionRun is a single conditional UPDATE; the status guard in the WHERE clause makes it a compare-and-set.
func (r *RunRepository) TransitionRun(
	ctx context.Context,
	id string,
	from []models.RunStatus,
	update persistence.RunUpdate,
) (*models.WorkflowRun, error) {
	var appendJSON *string

	if update.AppendResult != nil {
		b, err := json.Marshal(update.AppendResult)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal step result: %w", err)
		}

		s := string(b)
		appendJSON = &s
	}

	fromStatuses := make([]string, 0, len(from))
	for _, status := range from {
		fromStatuses = append(fromStatuses, string(status))
	}

	query := `
		UPDATE workflow_runs SET
			status = COALESCE(NULLIF($2::text, ''), status),
			current_step_id = COALESCE($3::text, current_step_id),
			step_results = CASE
				WHEN $4::jsonb IS NULL THEN step_results
				ELSE step_results || jsonb_build_array($4::jsonb)
			END,
			failure_reason = COALESCE(NULLIF($5::text, ''), failure_reason),
			started_at = COALESCE($6::timestamptz, started_at),
			completed_at = COALESCE($7::timestamptz, completed_at)
		WHERE id = $1 AND status = ANY($8::text[])
		RETURNING` + runColumns

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query,
		id,
		string(update.Status),
		update.CurrentStepID,
		appendJSON,
		update.FailureReason,
		update.StartedAt,
		update.CompletedAt,
		pq.Array(fromStatuses),
	))
	if err == nil {
		return run, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("TransitionRun", id, err)
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return nil, persistence.NewRunError("TransitionRun", id, err)
	}

	if !exists {
		return nil, persistence.NewRunError("TransitionRun", id, persistence.ErrRunNotFound)
	}

	return nil, persistence.NewRunError("TransitionRun", id, persistence.ErrInvalidTransition)
}

// ListRuns returns runs newest first.
func (r *RunRepository) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", len(args)))
	}

	if filter.AutomationRuleID != "" {
		args = append(args, filter.AutomationRuleID)
		clauses = append(clauses, fmt.Sprintf("automation_rule_id = $%d", len(args)))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT` + runColumns + `
		FROM workflow_runs`

	if len(clauses) > 0 {
		query += "\n\t\tWHERE " + strings.Join(clauses, " AND ")
	}

	args = append(args, limit)
	query += fmt.Sprintf("\n\t\tORDER BY created_at DESC, id\n\t\tLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run           models.WorkflowRun
		status        string
		triggerJSON   []byte
		resultsJSON   []byte
		currentStepID sql.NullString
		triggeredBy   sql.NullString
		failureReason sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.AutomationRuleID,
		&run.OrganizationID,
		&status,
		&triggerJSON,
		&run.IdempotencyKey,
		&currentStepID,
		&resultsJSON,
		&triggeredBy,
		&failureReason,
		&run.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.CurrentStepID = currentStepID.String
	run.TriggeredBy = triggeredBy.String
	run.FailureReason = failureReason.String

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	err = json.Unmarshal(triggerJSON, &run.TriggerContext)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger context: %w", err)
	}

	err = json.Unmarshal(resultsJSON, &run.StepResults)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
	}

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
