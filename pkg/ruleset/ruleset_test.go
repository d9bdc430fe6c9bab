package ruleset_test

import (
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	rules, err := ruleset.LoadFile("testdata/rules.yaml")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	reminder := rules[0]
	assert.Equal(t, "monthly-close-reminder", reminder.ID)
	assert.Equal(t, models.TriggerBoardCompleted, reminder.TriggerType)
	assert.True(t, reminder.IsActive)
	assert.JSONEq(t, `{"boardCadence": "monthly"}`, string(reminder.Conditions))
	require.Len(t, reminder.Definition.Steps, 1)

	review := rules[1]
	assert.False(t, review.IsActive)
	require.Len(t, review.Definition.Steps, 3)

	check, ok := review.Definition.Steps[0].(*models.ConditionStep)
	require.True(t, ok)
	assert.Equal(t, "approve", check.OnTrue)

	thresholds, err := models.DecodeConditions[models.ThresholdConditions](review.Conditions)
	require.NoError(t, err)
	assert.JSONEq(t, `{">": [{"var": "amount"}, 10000]}`, string(thresholds.Logic))
}

func TestLoad_TemplatesAndRoles(t *testing.T) {
	seed, err := ruleset.Load("testdata/rules.yaml")
	require.NoError(t, err)
	require.Len(t, seed.Rules, 2)

	require.Len(t, seed.Templates, 1)
	assert.Equal(t, "close-reminder", seed.Templates[0].ID)
	assert.Equal(t, "org-1", seed.Templates[0].OrganizationID)
	assert.Contains(t, seed.Templates[0].Body, "{{ .recipient.name }}")

	assert.Equal(t, []ruleset.RoleAssignment{{OrganizationID: "org-1", UserID: "user-42", Role: "manager"}}, seed.Roles)
}

func TestLoad_ContactsDataSetsAndPermissions(t *testing.T) {
	seed, err := ruleset.Load("testdata/rules.yaml")
	require.NoError(t, err)

	require.Len(t, seed.Contacts, 2)
	assert.Equal(t, []string{"finance"}, seed.Contacts[0].Groups)
	assert.Equal(t, []ruleset.PriorDelivery{{LineageID: "lin-1", ActionType: models.ActionSendRequest}}, seed.Contacts[0].Prior)

	require.Len(t, seed.DataSets, 1)
	assert.Equal(t, "cfg-9", seed.DataSets[0].ConfigID)
	assert.Equal(t, "Acme", seed.DataSets[0].Rows[0]["vendor"])

	require.Len(t, seed.Permissions, 1)
	assert.Equal(t, []string{"email.send", "task.create"}, seed.Permissions[0].Roles["manager"])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing organization", "rules:\n  - id: a\n    triggerType: scheduled\n"},
		{"unknown trigger type", "rules:\n  - id: a\n    organizationId: o\n    triggerType: webhook\n"},
		{"invalid definition", "rules:\n  - id: a\n    organizationId: o\n    triggerType: scheduled\n    definition:\n      steps:\n        - id: x\n          type: loop\n"},
		{"duplicate id", "rules:\n  - id: a\n    organizationId: o\n    triggerType: scheduled\n  - id: a\n    organizationId: o\n    triggerType: scheduled\n"},
		{"not yaml", "rules: [unterminated"},
		{"template without id", "templates:\n  - organizationId: o\n    body: hi\n"},
		{"role without user", "roles:\n  - organizationId: o\n    role: admin\n"},
		{"contact without email", "contacts:\n  - organizationId: o\n    groups: [finance]\n"},
		{"prior with unknown action", "contacts:\n  - organizationId: o\n    email: a@x.io\n    prior:\n      - lineageId: l\n        actionType: send_fax\n"},
		{"data set without config", "dataSets:\n  - organizationId: o\n"},
		{"permission map without organization", "permissions:\n  - roles:\n      admin: [email.send]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ruleset.Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := ruleset.LoadFile("testdata/nope.yaml")
	require.Error(t, err)
}
