// Package models defines the core domain models for tenant automation rules and their workflow runs.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// TriggerType identifies the kind of business event an automation rule listens to.
type TriggerType string

const (
	TriggerBoardCreated       TriggerType = "board_created"
	TriggerBoardStatusChanged TriggerType = "board_status_changed"
	TriggerBoardCompleted     TriggerType = "board_completed"
	TriggerDataUploaded       TriggerType = "data_uploaded"
	TriggerFormSubmitted      TriggerType = "form_submitted"
	TriggerScheduled          TriggerType = "scheduled"
	TriggerDataThreshold      TriggerType = "data_threshold"
)

// TriggerTypes lists every trigger type the engine knows how to match.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerBoardCreated,
		TriggerBoardStatusChanged,
		TriggerBoardCompleted,
		TriggerDataUploaded,
		TriggerFormSubmitted,
		TriggerScheduled,
		TriggerDataThreshold,
	}
}

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	return slices.Contains(TriggerTypes(), t)
}

// IsBoardLifecycle reports whether t is one of the board lifecycle events.
func (t TriggerType) IsBoardLifecycle() bool {
	switch t {
	case TriggerBoardCreated, TriggerBoardStatusChanged, TriggerBoardCompleted:
		return true
	default:
		return false
	}
}

// AutomationRule binds a trigger type and its conditions to a workflow definition.
// Rules are configured by tenants and are read-only to the engine.
type AutomationRule struct {
	ID             string          `json:"id"             validate:"required"`
	OrganizationID string          `json:"organizationId" validate:"required"`
	Name           string          `json:"name"`
	TriggerType    TriggerType     `json:"triggerType"    validate:"required"`
	Conditions     json.RawMessage `json:"conditions,omitempty"`
	Definition     Definition      `json:"definition"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ErrInvalidRule is returned when a rule is missing required fields or names an unknown trigger type.
var ErrInvalidRule = errors.New("invalid automation rule")

// Validate checks the rule's required fields and trigger type.
func (r *AutomationRule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if !r.TriggerType.Valid() {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, r.TriggerType)
	}

	return nil
}
