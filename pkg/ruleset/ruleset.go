// Package ruleset loads automation rule packs from YAML files. A pack may also carry the content
// templates, contacts, data sets, user roles and permission maps its rules rely on.
package ruleset

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/dukex/autoflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// Pack is the document shape of a rule pack file.
type Pack struct {
	Rules       []map[string]any `yaml:"rules"`
	Templates   []Template       `yaml:"templates"`
	Contacts    []Contact        `yaml:"contacts"`
	DataSets    []DataSet        `yaml:"dataSets"`
	Roles       []RoleAssignment `yaml:"roles"`
	Permissions []PermissionMap  `yaml:"permissions"`
}

// Template is a stored email or message template of one organization.
type Template struct {
	OrganizationID string `yaml:"organizationId"`
	ID             string `yaml:"id"`
	Subject        string `yaml:"subject"`
	Body           string `yaml:"body"`
}

// Contact is a recipient known to an organization. Groups and Types select it for the
// contact_group and contact_type strategies, Prior for prior_period.
type Contact struct {
	OrganizationID string          `yaml:"organizationId"`
	Email          string          `yaml:"email"`
	Name           string          `yaml:"name"`
	Groups         []string        `yaml:"groups"`
	Types          []string        `yaml:"types"`
	Prior          []PriorDelivery `yaml:"prior"`
}

// PriorDelivery records that a contact received actionType in the previous period of a lineage.
type PriorDelivery struct {
	LineageID  string            `yaml:"lineageId"`
	ActionType models.ActionType `yaml:"actionType"`
}

// DataSet holds the rows of one uploaded data configuration.
type DataSet struct {
	OrganizationID string           `yaml:"organizationId"`
	ConfigID       string           `yaml:"configId"`
	Rows           []map[string]any `yaml:"rows"`
}

// PermissionMap overrides the role to action key map of one organization.
type PermissionMap struct {
	OrganizationID string              `yaml:"organizationId"`
	Roles          map[string][]string `yaml:"roles"`
}

// RoleAssignment grants a user a role within an organization.
type RoleAssignment struct {
	OrganizationID string `yaml:"organizationId"`
	UserID         string `yaml:"userId"`
	Role           string `yaml:"role"`
}

// Seed is a decoded and validated pack.
type Seed struct {
	Rules       []*models.AutomationRule
	Templates   []Template
	Contacts    []Contact
	DataSets    []DataSet
	Roles       []RoleAssignment
	Permissions []PermissionMap
}

// LoadFile reads the rules of the pack at path.
func LoadFile(path string) ([]*models.AutomationRule, error) {
	seed, err := Load(path)
	if err != nil {
		return nil, err
	}

	return seed.Rules, nil
}

// Load reads the whole pack at path.
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack %s: %w", path, err)
	}

	return ParseSeed(data)
}

// Parse decodes the rules of a YAML pack.
func Parse(data []byte) ([]*models.AutomationRule, error) {
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}

	return seed.Rules, nil
}

// ParseSeed decodes a YAML pack. Each rule goes through the same validating decode as stored rules,
// and isActive defaults to true when omitted.
func ParseSeed(data []byte) (*Seed, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse rule pack: %w", err)
	}

	rules, err := decodeRules(pack.Rules)
	if err != nil {
		return nil, err
	}

	for i, tmpl := range pack.Templates {
		if tmpl.OrganizationID == "" || tmpl.ID == "" {
			return nil, fmt.Errorf("template %d: organizationId and id are required", i)
		}
	}

	for i, role := range pack.Roles {
		if role.OrganizationID == "" || role.UserID == "" || role.Role == "" {
			return nil, fmt.Errorf("role %d: organizationId, userId and role are required", i)
		}
	}

	err = validateDirectory(pack)
	if err != nil {
		return nil, err
	}

	return &Seed{
		Rules:       rules,
		Templates:   pack.Templates,
		Contacts:    pack.Contacts,
		DataSets:    pack.DataSets,
		Roles:       pack.Roles,
		Permissions: pack.Permissions,
	}, nil
}

func validateDirectory(pack Pack) error {
	for i, contact := range pack.Contacts {
		if contact.OrganizationID == "" || contact.Email == "" {
			return fmt.Errorf("contact %d: organizationId and email are required", i)
		}

		for _, prior := range contact.Prior {
			if prior.LineageID == "" || !slices.Contains(models.ActionTypes(), prior.ActionType) {
				return fmt.Errorf("contact %d: prior deliveries need a lineageId and a known actionType", i)
			}
		}
	}

	for i, set := range pack.DataSets {
		if set.OrganizationID == "" || set.ConfigID == "" {
			return fmt.Errorf("data set %d: organizationId and configId are required", i)
		}
	}

	for i, perms := range pack.Permissions {
		if perms.OrganizationID == "" {
			return fmt.Errorf("permission map %d: organizationId is required", i)
		}
	}

	return nil
}

func decodeRules(raws []map[string]any) ([]*models.AutomationRule, error) {
	rules := make([]*models.AutomationRule, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))

	for i, raw := range raws {
		if _, ok := raw["isActive"]; !ok {
			raw["isActive"] = true
		}

		doc, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		var rule models.AutomationRule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate rule id %q", i, rule.ID)
		}

		seen[rule.ID] = struct{}{}
		rules = append(rules, &rule)
	}

	return rules, nil
}
