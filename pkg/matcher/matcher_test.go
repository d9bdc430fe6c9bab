package matcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/matcher"
	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rule(id string, triggerType models.TriggerType, conditions string) *models.AutomationRule {
	var raw json.RawMessage
	if conditions != "" {
		raw = json.RawMessage(conditions)
	}

	return &models.AutomationRule{
		ID:             id,
		OrganizationID: "org-1",
		TriggerType:    triggerType,
		Conditions:     raw,
		IsActive:       true,
	}
}

func TestMatches_BoardCadence(t *testing.T) {
	monthly := rule("r1", models.TriggerBoardCompleted, `{"boardCadence": "monthly"}`)

	ok, err := matcher.Matches(monthly, map[string]any{"cadence": "quarterly"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = matcher.Matches(monthly, map[string]any{"cadence": "monthly", "status": "done"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = matcher.Matches(monthly, map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatches_Predicates(t *testing.T) {
	tests := []struct {
		name     string
		rule     *models.AutomationRule
		metadata map[string]any
		expected bool
	}{
		{"no conditions match anything", rule("r", models.TriggerBoardCreated, ""), map[string]any{}, true},
		{"empty condition value is ignored", rule("r", models.TriggerBoardCompleted, `{"boardCadence": ""}`), map[string]any{}, true},
		{"board all fields", rule("r", models.TriggerBoardStatusChanged,
			`{"targetStatus": "review", "configId": "c1", "lineageId": "l1"}`),
			map[string]any{"status": "review", "configId": "c1", "lineageId": "l1"}, true},
		{"board lineage mismatch", rule("r", models.TriggerBoardStatusChanged, `{"lineageId": "l1"}`),
			map[string]any{"lineageId": "l2"}, false},
		{"upload config", rule("r", models.TriggerDataUploaded, `{"configId": "c1"}`),
			map[string]any{"configId": "c1"}, true},
		{"upload numeric config compared as string", rule("r", models.TriggerDataUploaded, `{"configId": 12}`),
			map[string]any{"configId": "12"}, true},
		{"form both fields", rule("r", models.TriggerFormSubmitted, `{"formDefinitionId": "F1", "linkedProcessId": "P1"}`),
			map[string]any{"formDefinitionId": "F1", "linkedProcessId": "P1"}, true},
		{"form different definition", rule("r", models.TriggerFormSubmitted, `{"formDefinitionId": "F1"}`),
			map[string]any{"formDefinitionId": "F2"}, false},
		{"scheduled names the rule", rule("r9", models.TriggerScheduled, `{"cron": "0 8 * * *"}`),
			map[string]any{"ruleId": "r9"}, true},
		{"scheduled other rule", rule("r9", models.TriggerScheduled, `{"cron": "0 8 * * *"}`),
			map[string]any{"ruleId": "r1"}, false},
		{"threshold logic true", rule("r", models.TriggerDataThreshold, `{"configId": "c1", "logic": {">": [{"var": "amount"}, 1000]}}`),
			map[string]any{"configId": "c1", "amount": 5000}, true},
		{"threshold logic false", rule("r", models.TriggerDataThreshold, `{"configId": "c1", "logic": {">": [{"var": "amount"}, 1000]}}`),
			map[string]any{"configId": "c1", "amount": 10}, false},
		{"threshold config mismatch", rule("r", models.TriggerDataThreshold, `{"configId": "c1", "logic": true}`),
			map[string]any{"configId": "c2"}, false},
		{"threshold without logic", rule("r", models.TriggerDataThreshold, `{"configId": "c1"}`),
			map[string]any{"configId": "c1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := matcher.Matches(tt.rule, tt.metadata)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestMatches_Malformed(t *testing.T) {
	_, err := matcher.Matches(rule("r", models.TriggerDataUploaded, `{"configId": {"a": 1}}`), map[string]any{})
	require.ErrorIs(t, err, models.ErrInvalidConditions)

	_, err = matcher.Matches(rule("r", models.TriggerType("webhook"), ""), map[string]any{})
	require.ErrorIs(t, err, matcher.ErrUnsupportedTrigger)
}

func TestFindMatchingRules(t *testing.T) {
	store := memory.NewPersistence(
		rule("match", models.TriggerFormSubmitted, `{"formDefinitionId": "F1"}`),
		rule("other-form", models.TriggerFormSubmitted, `{"formDefinitionId": "F2"}`),
		rule("malformed", models.TriggerFormSubmitted, `["not", "an", "object"]`),
		rule("other-trigger", models.TriggerDataUploaded, ""),
	)

	m := matcher.NewMatcher(store.Rules(), slog.Default())

	rules, err := m.FindMatchingRules(context.Background(), models.TriggerFormSubmitted, "org-1",
		map[string]any{"formDefinitionId": "F1"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "match", rules[0].ID)

	rules, err = m.FindMatchingRules(context.Background(), models.TriggerFormSubmitted, "org-2",
		map[string]any{"formDefinitionId": "F1"})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestFindMatchingRules_ReadsFresh(t *testing.T) {
	store := memory.NewPersistence()
	m := matcher.NewMatcher(store.Rules(), slog.Default())
	ctx := context.Background()

	rules, err := m.FindMatchingRules(ctx, models.TriggerDataUploaded, "org-1", nil)
	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, store.SaveRule(ctx, rule("late", models.TriggerDataUploaded, "")))

	rules, err = m.FindMatchingRules(ctx, models.TriggerDataUploaded, "org-1", nil)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestFindMatchingRules_LookupFailure(t *testing.T) {
	repo := &mocks.MockRuleRepository{}
	repo.On("ActiveRules", mock.Anything, "org-1", models.TriggerDataUploaded).Return(nil, errors.New("db down"))

	m := matcher.NewMatcher(repo, slog.Default())

	_, err := m.FindMatchingRules(context.Background(), models.TriggerDataUploaded, "org-1", nil)
	require.Error(t, err)
	repo.AssertExpectations(t)
}

func TestScheduleDue(t *testing.T) {
	daily := rule("daily", models.TriggerScheduled, `{"cron": "0 8 * * *"}`)
	since := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)

	due, at, err := matcher.ScheduleDue(daily, since, since.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, due)
	assert.True(t, at.IsZero())

	due, at, err = matcher.ScheduleDue(daily, since, since.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), at)

	// several missed ticks collapse into the latest one
	due, at, err = matcher.ScheduleDue(daily, since, since.Add(50*time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
	assert.Equal(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), at)

	zoned := rule("zoned", models.TriggerScheduled, `{"cron": "0 8 * * *", "timezone": "America/Sao_Paulo"}`)
	due, at, err = matcher.ScheduleDue(zoned, since, since.Add(6*time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), at)

	_, _, err = matcher.ScheduleDue(rule("bad", models.TriggerScheduled, `{"cron": "not a cron"}`), since, since)
	require.ErrorIs(t, err, models.ErrInvalidConditions)

	_, _, err = matcher.ScheduleDue(rule("missing", models.TriggerScheduled, ""), since, since)
	require.ErrorIs(t, err, models.ErrInvalidConditions)

	_, _, err = matcher.ScheduleDue(rule("upload", models.TriggerDataUploaded, ""), since, since)
	require.ErrorIs(t, err, matcher.ErrUnsupportedTrigger)
}
