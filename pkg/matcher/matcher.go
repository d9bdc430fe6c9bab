// Package matcher selects the tenant automation rules that a trigger event activates.
package matcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Matcher reads rules fresh on every call; it keeps no cache.
type Matcher struct {
	rules  persistence.RuleRepository
	logger *slog.Logger
}

func NewMatcher(rules persistence.RuleRepository, logger *slog.Logger) *Matcher {
	return &Matcher{
		rules:  rules,
		logger: logger.With("module", "matcher"),
	}
}

// FindMatchingRules returns the tenant's active rules for triggerType whose conditions accept metadata.
// Rules with malformed conditions are excluded and logged at debug level. Only a lookup failure is returned.
func (m *Matcher) FindMatchingRules(
	ctx context.Context,
	triggerType models.TriggerType,
	organizationID string,
	metadata map[string]any,
) ([]*models.AutomationRule, error) {
	rules, err := m.rules.ActiveRules(ctx, organizationID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	matched := make([]*models.AutomationRule, 0, len(rules))

	for _, rule := range rules {
		ok, err := Matches(rule, metadata)
		if err != nil {
			m.logger.DebugContext(ctx, "rule excluded by malformed conditions",
				"rule_id", rule.ID,
				"trigger_type", triggerType,
				"error", err,
			)

			continue
		}

		if ok {
			matched = append(matched, rule)
		}
	}

	m.logger.DebugContext(ctx, "matched rules",
		"organization_id", organizationID,
		"trigger_type", triggerType,
		"candidates", len(rules),
		"matched", len(matched),
	)

	return matched, nil
}
