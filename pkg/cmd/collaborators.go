package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/actions/webhook"
	"github.com/dukex/autoflow/pkg/permissions"
	"github.com/dukex/autoflow/pkg/ruleset"
)

// NewCollaborators returns webhook collaborators under collaboratorURL, or logging collaborators
// when it is empty. Templates come from the seed. Without a collaborator URL the seed's contacts
// and data sets also serve as the contact directory, data rows and recipient history.
func NewCollaborators(logger *slog.Logger, collaboratorURL string, headers []string, seed *ruleset.Seed) (actions.Collaborators, error) {
	templates := actions.NewTemplateStore()

	for _, tmpl := range seed.Templates {
		templates.Put(tmpl.OrganizationID, actions.Template{ID: tmpl.ID, Subject: tmpl.Subject, Body: tmpl.Body})
	}

	if collaboratorURL == "" {
		collab := actions.LogCollaborators(logger)
		collab.Templates = templates

		contacts := SeedContacts(seed)
		collab.Contacts = contacts
		collab.History = contacts
		collab.DataRows = SeedRows(seed)

		return collab, nil
	}

	parsed, err := parseHeaders(headers)
	if err != nil {
		return actions.Collaborators{}, err
	}

	client, err := webhook.NewClient(collaboratorURL, parsed, logger)
	if err != nil {
		return actions.Collaborators{}, err
	}

	return client.Collaborators(templates), nil
}

// SeedContacts indexes the seed's contacts by group, contact type and prior delivery.
func SeedContacts(seed *ruleset.Seed) *actions.StaticContacts {
	contacts := actions.NewStaticContacts()

	for _, contact := range seed.Contacts {
		recipient := actions.Recipient{Email: contact.Email, Name: contact.Name}

		for _, group := range contact.Groups {
			contacts.AddGroup(contact.OrganizationID, group, recipient)
		}

		for _, contactType := range contact.Types {
			contacts.AddType(contact.OrganizationID, contactType, recipient)
		}

		for _, prior := range contact.Prior {
			contacts.AddPrior(contact.OrganizationID, prior.LineageID, prior.ActionType, recipient)
		}
	}

	return contacts
}

func SeedRows(seed *ruleset.Seed) *actions.StaticRows {
	rows := actions.NewStaticRows()

	for _, set := range seed.DataSets {
		rows.AddRows(set.OrganizationID, set.ConfigID, set.Rows...)
	}

	return rows
}

// parseHeaders reads "Name: value" pairs.
func parseHeaders(headers []string) (map[string]string, error) {
	out := make(map[string]string, len(headers))

	for _, header := range headers {
		name, value, ok := strings.Cut(header, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid collaborator header %q, expected \"Name: value\"", header)
		}

		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return out, nil
}

// NewPermissionChecker builds the checker from the seed's role assignments and permission maps.
// Organizations without a map of their own get the default one.
func NewPermissionChecker(seed *ruleset.Seed) *permissions.Checker {
	roles := permissions.NewStaticRoles()

	for _, assignment := range seed.Roles {
		roles.Assign(assignment.OrganizationID, assignment.UserID, assignment.Role)
	}

	maps := permissions.NewStaticPermissionMaps(permissions.DefaultPermissionMap())

	for _, perms := range seed.Permissions {
		maps.Set(perms.OrganizationID, perms.Roles)
	}

	return permissions.NewChecker(permissions.NewRoleMapOracle(), roles, maps)
}
