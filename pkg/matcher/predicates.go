package matcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diegoholiveira/jsonlogic"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// ErrUnsupportedTrigger is returned by Matches for trigger types without a predicate.
var ErrUnsupportedTrigger = errors.New("unsupported trigger type")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Matches applies the predicate of the rule's trigger type to the event metadata. A malformed
// condition document is returned as an error; callers treat it as a non-match.
func Matches(rule *models.AutomationRule, metadata map[string]any) (bool, error) {
	switch rule.TriggerType {
	case models.TriggerBoardCreated, models.TriggerBoardStatusChanged, models.TriggerBoardCompleted:
		conds, err := models.DecodeConditions[models.BoardConditions](rule.Conditions)
		if err != nil {
			return false, err
		}

		return conds.BoardCadence.Matches(metadata, "cadence") &&
			conds.TargetStatus.Matches(metadata, "status") &&
			conds.ConfigID.Matches(metadata, "configId") &&
			conds.LineageID.Matches(metadata, "lineageId"), nil
	case models.TriggerDataUploaded:
		conds, err := models.DecodeConditions[models.UploadConditions](rule.Conditions)
		if err != nil {
			return false, err
		}

		return conds.ConfigID.Matches(metadata, "configId"), nil
	case models.TriggerFormSubmitted:
		conds, err := models.DecodeConditions[models.FormConditions](rule.Conditions)
		if err != nil {
			return false, err
		}

		return conds.FormDefinitionID.Matches(metadata, "formDefinitionId") &&
			conds.LinkedProcessID.Matches(metadata, "linkedProcessId"), nil
	case models.TriggerScheduled:
		ruleID, _ := metadata["ruleId"].(string)

		return ruleID == rule.ID, nil
	case models.TriggerDataThreshold:
		conds, err := models.DecodeConditions[models.ThresholdConditions](rule.Conditions)
		if err != nil {
			return false, err
		}

		if !conds.ConfigID.Matches(metadata, "configId") {
			return false, nil
		}

		return ThresholdMet(conds, metadata)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedTrigger, rule.TriggerType)
	}
}

// ThresholdMet evaluates the JsonLogic expression of a threshold rule against metadata.
// A rule without an expression is met as soon as its configId matches.
func ThresholdMet(conds models.ThresholdConditions, metadata map[string]any) (bool, error) {
	logic := bytes.TrimSpace(conds.Logic)
	if len(logic) == 0 || bytes.Equal(logic, []byte("null")) {
		return true, nil
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("%w: %w", models.ErrInvalidConditions, err)
	}

	var result bytes.Buffer

	err = jsonlogic.Apply(bytes.NewReader(logic), bytes.NewReader(data), &result)
	if err != nil {
		return false, fmt.Errorf("%w: %w", models.ErrInvalidConditions, err)
	}

	var value any
	if err := json.Unmarshal(result.Bytes(), &value); err != nil {
		return false, fmt.Errorf("%w: %w", models.ErrInvalidConditions, err)
	}

	return truthy(value), nil
}

// truthy follows JsonLogic truthiness: false, 0, "", null and [] are falsy.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		return value != ""
	case []any:
		return len(value) > 0
	default:
		return true
	}
}

// ScheduleDue reports whether a scheduled rule has a tick in (since, now], and returns the latest such tick.
// The cron expression is evaluated in the rule's timezone, UTC when unset.
func ScheduleDue(rule *models.AutomationRule, since, now time.Time) (bool, time.Time, error) {
	if rule.TriggerType != models.TriggerScheduled {
		return false, time.Time{}, fmt.Errorf("%w: %s is not scheduled", ErrUnsupportedTrigger, rule.TriggerType)
	}

	conds, err := models.DecodeConditions[models.ScheduleConditions](rule.Conditions)
	if err != nil {
		return false, time.Time{}, err
	}

	if conds.Cron == "" {
		return false, time.Time{}, fmt.Errorf("%w: cron expression is required", models.ErrInvalidConditions)
	}

	location := time.UTC
	if conds.Timezone != "" {
		location, err = time.LoadLocation(conds.Timezone)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("%w: %w", models.ErrInvalidConditions, err)
		}
	}

	schedule, err := cronParser.Parse(conds.Cron)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %w", models.ErrInvalidConditions, err)
	}

	var due time.Time

	for next := schedule.Next(since.In(location)); !next.IsZero() && !next.After(now); next = schedule.Next(next) {
		due = next
	}

	if due.IsZero() {
		return false, time.Time{}, nil
	}

	return true, due.UTC(), nil
}
