package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
)

// AuditRepository handles the workflow_audit_log table.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// AppendAudit inserts entries in a single transaction.
func (r *AuditRepository) AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO workflow_audit_log (
			id, workflow_run_id, organization_id, step_id, action_type, target_type, target_id,
			outcome, detail, actor_type, actor_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, entry := range entries {
		var detail *string

		if entry.Detail != nil {
			b, marshalErr := json.Marshal(entry.Detail)
			if marshalErr != nil {
				return fmt.Errorf("failed to marshal audit detail: %w", marshalErr)
			}

			s := string(b)
			detail = &s
		}

		_, err = tx.ExecContext(ctx, query,
			entry.ID,
			entry.WorkflowRunID,
			entry.OrganizationID,
			entry.StepID,
			string(entry.ActionType),
			nullString(entry.TargetType),
			nullString(entry.TargetID),
			string(entry.Outcome),
			detail,
			string(entry.ActorType),
			nullString(entry.ActorID),
			entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry %s: %w", entry.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit audit entries: %w", err)
	}

	return nil
}

// AuditByRun returns the audit entries of one run in insertion order.
func (r *AuditRepository) AuditByRun(ctx context.Context, runID string) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT
			id
		  , workflow_run_id
		  , organization_id
		  , step_id
		  , action_type
		  , target_type
		  , target_id
		  , outcome
		  , detail
		  , actor_type
		  , actor_id
		  , created_at
		FROM workflow_audit_log
		WHERE workflow_run_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.AuditLogEntry, 0)

	for rows.Next() {
		var (
			entry      models.AuditLogEntry
			actionType string
			outcome    string
			actorType  string
			targetType sql.NullString
			targetID   sql.NullString
			actorID    sql.NullString
			detailJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.WorkflowRunID,
			&entry.OrganizationID,
			&entry.StepID,
			&actionType,
			&targetType,
			&targetID,
			&outcome,
			&detailJSON,
			&actorType,
			&actorID,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.ActionType = models.ActionType(actionType)
		entry.Outcome = models.AuditOutcome(outcome)
		entry.ActorType = models.ActorType(actorType)
		entry.TargetType = targetType.String
		entry.TargetID = targetID.String
		entry.ActorID = actorID.String

		if detailJSON != nil {
			err := json.Unmarshal(detailJSON, &entry.Detail)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
