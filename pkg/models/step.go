package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// StepType discriminates the variants of Step.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeApproval  StepType = "approval"
)

// Operator is a comparison operator used by condition steps.
type Operator string

const (
	OperatorGt       Operator = "gt"
	OperatorLt       Operator = "lt"
	OperatorGte      Operator = "gte"
	OperatorLte      Operator = "lte"
	OperatorEq       Operator = "eq"
	OperatorNeq      Operator = "neq"
	OperatorContains Operator = "contains"
)

// Step is one node of a workflow definition. The set of implementations is closed:
// *ActionStep, *ConditionStep and *ApprovalStep.
type Step interface {
	StepID() string
	Type() StepType
	NextStep() string
	isStep()
}

// ActionStep dispatches a side-effecting action.
type ActionStep struct {
	ID           string
	ActionType   ActionType
	ActionParams map[string]any
	NextStepID   string
}

func (s *ActionStep) StepID() string   { return s.ID }
func (s *ActionStep) Type() StepType   { return StepTypeAction }
func (s *ActionStep) NextStep() string { return s.NextStepID }
func (*ActionStep) isStep()            {}

// ConditionStep routes the run based on a comparison.
type ConditionStep struct {
	ID         string
	Field      string
	Operator   Operator
	Value      any
	OnTrue     string
	OnFalse    string
	NextStepID string
}

func (s *ConditionStep) StepID() string   { return s.ID }
func (s *ConditionStep) Type() StepType   { return StepTypeCondition }
func (s *ConditionStep) NextStep() string { return s.NextStepID }
func (*ConditionStep) isStep()            {}

// Condition returns the comparison evaluated by the step.
func (s *ConditionStep) Condition() Condition {
	return Condition{Field: s.Field, Operator: s.Operator, Value: s.Value}
}

// HasRouting reports whether the step declares any outgoing edge.
func (s *ConditionStep) HasRouting() bool {
	return s.OnTrue != "" || s.OnFalse != "" || s.NextStepID != ""
}

// ApprovalStep pauses the run until a human approves it.
type ApprovalStep struct {
	ID         string
	Approvers  []string
	Message    string
	NextStepID string
}

func (s *ApprovalStep) StepID() string   { return s.ID }
func (s *ApprovalStep) Type() StepType   { return StepTypeApproval }
func (s *ApprovalStep) NextStep() string { return s.NextStepID }
func (*ApprovalStep) isStep()            {}

// Condition is the comparison {field, operator, value} of a condition step.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Definition is the ordered list of steps of an automation rule.
type Definition struct {
	Steps []Step
}

// IndexOf returns the position of the step with the given id, or -1.
func (d Definition) IndexOf(stepID string) int {
	for i, step := range d.Steps {
		if step.StepID() == stepID {
			return i
		}
	}

	return -1
}

// Find returns the step with the given id.
func (d Definition) Find(stepID string) (Step, bool) {
	if i := d.IndexOf(stepID); i >= 0 {
		return d.Steps[i], true
	}

	return nil, false
}

// rawStep is the persisted JSON shape of a Step.
type rawStep struct {
	ID           string         `json:"id"                     validate:"required"`
	Type         StepType       `json:"type"                   validate:"required,oneof=action condition approval"`
	ActionType   ActionType     `json:"actionType,omitempty"   validate:"required_if=Type action"`
	ActionParams map[string]any `json:"actionParams,omitempty"`
	Field        string         `json:"field,omitempty"        validate:"required_if=Type condition"`
	Operator     Operator       `json:"operator,omitempty"     validate:"required_if=Type condition"`
	Value        any            `json:"value,omitempty"`
	OnTrue       string         `json:"onTrue,omitempty"`
	OnFalse      string         `json:"onFalse,omitempty"`
	Approvers    []string       `json:"approvers,omitempty"`
	Message      string         `json:"message,omitempty"`
	NextStepID   string         `json:"nextStepId,omitempty"`
}

func (r rawStep) toStep() Step {
	switch r.Type {
	case StepTypeAction:
		return &ActionStep{ID: r.ID, ActionType: r.ActionType, ActionParams: r.ActionParams, NextStepID: r.NextStepID}
	case StepTypeCondition:
		return &ConditionStep{
			ID:         r.ID,
			Field:      r.Field,
			Operator:   r.Operator,
			Value:      r.Value,
			OnTrue:     r.OnTrue,
			OnFalse:    r.OnFalse,
			NextStepID: r.NextStepID,
		}
	case StepTypeApproval:
		return &ApprovalStep{ID: r.ID, Approvers: r.Approvers, Message: r.Message, NextStepID: r.NextStepID}
	}

	return nil
}

func fromStep(step Step) rawStep {
	switch s := step.(type) {
	case *ActionStep:
		return rawStep{ID: s.ID, Type: StepTypeAction, ActionType: s.ActionType, ActionParams: s.ActionParams, NextStepID: s.NextStepID}
	case *ConditionStep:
		return rawStep{
			ID:         s.ID,
			Type:       StepTypeCondition,
			Field:      s.Field,
			Operator:   s.Operator,
			Value:      s.Value,
			OnTrue:     s.OnTrue,
			OnFalse:    s.OnFalse,
			NextStepID: s.NextStepID,
		}
	case *ApprovalStep:
		return rawStep{ID: s.ID, Type: StepTypeApproval, Approvers: s.Approvers, Message: s.Message, NextStepID: s.NextStepID}
	}

	return rawStep{}
}

type rawDefinition struct {
	Steps []rawStep `json:"steps"`
}

// MarshalJSON encodes the definition as {"steps": [...]}.
func (d Definition) MarshalJSON() ([]byte, error) {
	raw := rawDefinition{Steps: make([]rawStep, 0, len(d.Steps))}
	for _, step := range d.Steps {
		raw.Steps = append(raw.Steps, fromStep(step))
	}

	return json.Marshal(raw)
}

// UnmarshalJSON decodes and validates a definition. See DecodeDefinition.
func (d *Definition) UnmarshalJSON(data []byte) error {
	def, err := DecodeDefinition(data)
	if err != nil {
		return err
	}

	*d = def

	return nil
}

// DecodeDefinition validates a persisted definition document and converts it into typed steps.
// Both {"steps": [...]} and a bare step array are accepted; null decodes to an empty definition.
func DecodeDefinition(data []byte) (Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Definition{}, nil
	}

	if trimmed[0] == '[' {
		trimmed = append(append([]byte(`{"steps":`), trimmed...), '}')
	}

	if err := validateDefinitionSchema(trimmed); err != nil {
		return Definition{}, err
	}

	var raw rawDefinition
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Definition{}, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	seen := make(map[string]struct{}, len(raw.Steps))
	steps := make([]Step, 0, len(raw.Steps))

	for i, rs := range raw.Steps {
		if err := validate.Struct(rs); err != nil {
			return Definition{}, fmt.Errorf("%w: step %d: %w", ErrInvalidDefinition, i, err)
		}

		if _, dup := seen[rs.ID]; dup {
			return Definition{}, fmt.Errorf("%w: duplicate step id %q", ErrInvalidDefinition, rs.ID)
		}

		seen[rs.ID] = struct{}{}
		steps = append(steps, rs.toStep())
	}

	return Definition{Steps: steps}, nil
}

// ErrInvalidDefinition is returned when a persisted definition cannot be decoded into typed steps.
var ErrInvalidDefinition = errors.New("invalid workflow definition")
