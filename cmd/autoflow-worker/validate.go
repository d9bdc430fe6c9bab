package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/matcher"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

var ErrInvalidRules = errors.New("invalid automation rules")

// ValidateRules checks every stored rule and returns how many are broken.
func ValidateRules(ctx context.Context, rules persistence.RuleRepository, logger *slog.Logger) (int, error) {
	all, err := rules.AllRules(ctx)
	if err != nil {
		return 0, err
	}

	invalid := 0

	for _, rule := range all {
		err := ValidateRule(rule)
		if err != nil {
			invalid++

			logger.ErrorContext(ctx, "invalid rule",
				"rule_id", rule.ID,
				"organization_id", rule.OrganizationID,
				"error", err,
			)

			continue
		}

		logger.InfoContext(ctx, "rule ok", "rule_id", rule.ID, "steps", len(rule.Definition.Steps))
	}

	if invalid > 0 {
		return invalid, fmt.Errorf("%w: %d of %d", ErrInvalidRules, invalid, len(all))
	}

	return 0, nil
}

// ValidateRule checks the rule fields and trigger conditions, and that every step edge
// points at a step of the definition. Step shapes are already checked when the definition decodes.
func ValidateRule(rule *models.AutomationRule) error {
	err := rule.Validate()
	if err != nil {
		return err
	}

	if rule.TriggerType == models.TriggerScheduled {
		now := time.Now()

		_, _, err = matcher.ScheduleDue(rule, now, now)
	} else {
		_, err = matcher.Matches(rule, map[string]any{})
	}

	if err != nil {
		return err
	}

	for _, step := range rule.Definition.Steps {
		targets := []string{step.NextStep()}

		if condition, ok := step.(*models.ConditionStep); ok {
			targets = append(targets, condition.OnTrue, condition.OnFalse)
		}

		for _, target := range targets {
			if _, ok := rule.Definition.Find(target); target != "" && !ok {
				return fmt.Errorf("step %q points at unknown step %q", step.StepID(), target)
			}
		}
	}

	return nil
}
