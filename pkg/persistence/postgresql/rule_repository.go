package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

const ruleColumns = `
			id
		  , organization_id
		  , name
		  , trigger_type
		  , conditions
		  , definition
		  , is_active
		  , created_at
		  , updated_at`

// RuleRepository handles automation rule database operations.
type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// ActiveRules returns the active rules of one tenant for one trigger type.
func (r *RuleRepository) ActiveRules(
	ctx context.Context,
	organizationID string,
	triggerType models.TriggerType,
) ([]*models.AutomationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM automation_rules
		WHERE organization_id = $1 AND trigger_type = $2 AND is_active
		ORDER BY created_at, id
	`

	return r.query(ctx, query, organizationID, string(triggerType))
}

// ActiveRulesByTrigger returns the active rules of every tenant for one trigger type.
func (r *RuleRepository) ActiveRulesByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM automation_rules
		WHERE trigger_type = $1 AND is_active
		ORDER BY created_at, id
	`

	return r.query(ctx, query, string(triggerType))
}

// AllRules returns every stored rule whose definition decodes.
func (r *RuleRepository) AllRules(ctx context.Context) ([]*models.AutomationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM automation_rules
		ORDER BY created_at, id
	`

	return r.query(ctx, query)
}

func (r *RuleRepository) RuleByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM automation_rules
		WHERE id = $1
	`

	rule, err := r.scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRuleError("RuleByID", id, persistence.ErrRuleNotFound)
		}

		return nil, persistence.NewRuleError("RuleByID", id, err)
	}

	return rule, nil
}

// SaveRule inserts or replaces a rule.
func (r *RuleRepository) SaveRule(ctx context.Context, rule *models.AutomationRule) error {
	now := time.Now().UTC()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	definitionJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	var conditions *string
	if len(rule.Conditions) > 0 {
		s := string(rule.Conditions)
		conditions = &s
	}

	query := `
		INSERT INTO automation_rules (id, organization_id, name, trigger_type, conditions, definition, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			conditions = EXCLUDED.conditions,
			definition = EXCLUDED.definition,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.OrganizationID,
		rule.Name,
		string(rule.TriggerType),
		conditions,
		string(definitionJSON),
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRuleError("SaveRule", rule.ID, err)
	}

	return nil
}

// query runs a rule listing. Rows whose definition fails to decode are skipped with a warning.
func (r *RuleRepository) query(ctx context.Context, query string, args ...any) ([]*models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation rules: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	rules := make([]*models.AutomationRule, 0)

	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			if errors.Is(err, models.ErrInvalidDefinition) {
				r.logger.WarnContext(ctx, "skipping rule with invalid definition", "rule_id", rule.ID, "error", err)

				continue
			}

			return nil, fmt.Errorf("failed to scan automation rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automation rules: %w", err)
	}

	return rules, nil
}

// scanRule always returns a rule carrying at least its id, so callers can log decode failures.
func (r *RuleRepository) scanRule(row scanner) (*models.AutomationRule, error) {
	var (
		rule           models.AutomationRule
		triggerType    string
		conditionsJSON []byte
		definitionJSON []byte
	)

	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&triggerType,
		&conditionsJSON,
		&definitionJSON,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return &rule, err
	}

	rule.TriggerType = models.TriggerType(triggerType)

	if conditionsJSON != nil {
		rule.Conditions = json.RawMessage(conditionsJSON)
	}

	definition, err := models.DecodeDefinition(definitionJSON)
	if err != nil {
		return &rule, err
	}

	rule.Definition = definition

	return &rule, nil
}
