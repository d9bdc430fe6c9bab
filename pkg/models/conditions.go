package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidConditions is returned when a rule's conditions do not fit the schema of its trigger type.
var ErrInvalidConditions = errors.New("invalid rule conditions")

// Scalar is a condition value compared by its string form. It accepts JSON strings, numbers and booleans.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	str, ok := ScalarString(v)
	if !ok {
		return fmt.Errorf("%w: expected a scalar, got %s", ErrInvalidConditions, bytes.TrimSpace(data))
	}

	*s = Scalar(str)

	return nil
}

// Matches reports whether the condition is absent or empty, or equals metadata[key] in string form.
func (s *Scalar) Matches(metadata map[string]any, key string) bool {
	if s == nil || *s == "" {
		return true
	}

	value, ok := metadata[key]
	if !ok {
		return false
	}

	str, ok := ScalarString(value)

	return ok && str == string(*s)
}

// ScalarString returns the string form of a JSON scalar.
func ScalarString(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case bool:
		return strconv.FormatBool(value), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case int32:
		return strconv.FormatInt(int64(value), 10), true
	case json.Number:
		return value.String(), true
	default:
		return "", false
	}
}

// BoardConditions filter board lifecycle events.
type BoardConditions struct {
	BoardCadence *Scalar `json:"boardCadence,omitempty"`
	TargetStatus *Scalar `json:"targetStatus,omitempty"`
	ConfigID     *Scalar `json:"configId,omitempty"`
	LineageID    *Scalar `json:"lineageId,omitempty"`
}

// UploadConditions filter data upload events.
type UploadConditions struct {
	ConfigID *Scalar `json:"configId,omitempty"`
}

// FormConditions filter form submission events.
type FormConditions struct {
	FormDefinitionID *Scalar `json:"formDefinitionId,omitempty"`
	LinkedProcessID  *Scalar `json:"linkedProcessId,omitempty"`
}

// ScheduleConditions describe when a scheduled rule is due. The external scheduler reads them.
type ScheduleConditions struct {
	Cron     string `json:"cron"               validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

// ThresholdConditions filter data threshold events with a JsonLogic expression over the event metadata.
type ThresholdConditions struct {
	ConfigID *Scalar        `json:"configId,omitempty"`
	Logic    json.RawMessage `json:"logic,omitempty"`
}

// DecodeConditions decodes raw rule conditions into T. Empty or null conditions decode to the zero value.
func DecodeConditions[T any](raw json.RawMessage) (T, error) {
	var out T

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}

	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidConditions, err)
	}

	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidConditions, err)
	}

	return out, nil
}
