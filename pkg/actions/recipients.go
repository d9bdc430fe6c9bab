package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/models"
)

// RecipientSource names a strategy for resolving the targets of a multi-target action.
type RecipientSource string

const (
	SourceFixed        RecipientSource = "fixed"
	SourceContactGroup RecipientSource = "contact_group"
	SourceContactType  RecipientSource = "contact_type"
	SourceDataRows     RecipientSource = "data_rows"
	SourcePriorPeriod  RecipientSource = "prior_period"
)

// RecipientSpec selects recipients. Only the fields of the chosen source are read.
type RecipientSpec struct {
	Source      RecipientSource `json:"source"                validate:"required,oneof=fixed contact_group contact_type data_rows prior_period"`
	Emails      []string        `json:"emails,omitempty"`
	Contacts    []Recipient     `json:"contacts,omitempty"`
	GroupID     string          `json:"groupId,omitempty"     validate:"required_if=Source contact_group"`
	ContactType string          `json:"contactType,omitempty" validate:"required_if=Source contact_type"`
	ConfigID    string          `json:"configId,omitempty"`
	EmailField  string          `json:"emailField,omitempty"`
	NameField   string          `json:"nameField,omitempty"`
	LineageID   string          `json:"lineageId,omitempty"`
}

// resolveRecipients runs the selected strategy and deduplicates the result by email.
func (d *Dispatcher) resolveRecipients(
	ctx context.Context,
	spec RecipientSpec,
	actionType models.ActionType,
	actx models.ActionContext,
) ([]Recipient, error) {
	var (
		found []Recipient
		err   error
	)

	switch spec.Source {
	case SourceFixed:
		found = append(found, spec.Contacts...)
		for _, email := range spec.Emails {
			found = append(found, Recipient{Email: email})
		}
	case SourceContactGroup:
		if d.collab.Contacts == nil {
			return nil, notConfigured("contact directory")
		}

		found, err = d.collab.Contacts.ContactsByGroup(ctx, actx.OrganizationID, spec.GroupID)
	case SourceContactType:
		if d.collab.Contacts == nil {
			return nil, notConfigured("contact directory")
		}

		found, err = d.collab.Contacts.ContactsByType(ctx, actx.OrganizationID, spec.ContactType)
	case SourceDataRows:
		found, err = d.dataRowRecipients(ctx, spec, actx)
	case SourcePriorPeriod:
		if d.collab.History == nil {
			return nil, notConfigured("recipient history")
		}

		lineageID := spec.LineageID
		if lineageID == "" {
			lineageID = actx.LineageID
		}

		if lineageID == "" {
			return nil, fmt.Errorf("%w: prior_period recipients need a lineageId", ErrInvalidParams)
		}

		found, err = d.collab.History.PriorRecipients(ctx, actx.OrganizationID, lineageID, actionType)
	default:
		return nil, fmt.Errorf("%w: unknown recipient source %q", ErrInvalidParams, spec.Source)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s recipients: %w", spec.Source, err)
	}

	return dedupe(found), nil
}

func (d *Dispatcher) dataRowRecipients(ctx context.Context, spec RecipientSpec, actx models.ActionContext) ([]Recipient, error) {
	if d.collab.DataRows == nil {
		return nil, notConfigured("data row source")
	}

	configID := spec.ConfigID
	if configID == "" {
		if value, ok := actx.TriggerContext.Metadata["configId"]; ok {
			configID = conditions.ToString(value)
		}
	}

	if configID == "" {
		return nil, fmt.Errorf("%w: data_rows recipients need a configId", ErrInvalidParams)
	}

	emailField := spec.EmailField
	if emailField == "" {
		emailField = "email"
	}

	nameField := spec.NameField
	if nameField == "" {
		nameField = "name"
	}

	rows, err := d.collab.DataRows.Rows(ctx, actx.OrganizationID, configID)
	if err != nil {
		return nil, err
	}

	recipients := make([]Recipient, 0, len(rows))

	for _, row := range rows {
		email, _ := row[emailField].(string)
		name, _ := row[nameField].(string)

		recipients = append(recipients, Recipient{Email: email, Name: name, Fields: row})
	}

	return recipients, nil
}

func dedupe(recipients []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]Recipient, 0, len(recipients))

	for _, recipient := range recipients {
		key := strings.ToLower(strings.TrimSpace(recipient.Email))
		if key == "" {
			continue
		}

		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		recipient.Email = strings.TrimSpace(recipient.Email)
		out = append(out, recipient)
	}

	return out
}
