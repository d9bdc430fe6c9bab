// Package navigator decides which step of a workflow definition runs next.
package navigator

import "github.com/dukex/autoflow/pkg/models"

// GetNextStep returns the step to execute after currentStepID, or nil when the run should complete.
// An empty currentStepID starts the definition.
func GetNextStep(def models.Definition, currentStepID string, results []models.StepResult) models.Step {
	if currentStepID == "" {
		if len(def.Steps) == 0 {
			return nil
		}

		return def.Steps[0]
	}

	index := def.IndexOf(currentStepID)
	if index < 0 {
		return nil
	}

	switch step := def.Steps[index].(type) {
	case *models.ConditionStep:
		return nextAfterCondition(def, index, step, results)
	default:
		if next := step.NextStep(); next != "" {
			return lookup(def, next)
		}

		return sequential(def, index)
	}
}

func nextAfterCondition(def models.Definition, index int, step *models.ConditionStep, results []models.StepResult) models.Step {
	branch := step.OnFalse
	if conditionResult(results, step.ID) {
		branch = step.OnTrue
	}

	switch {
	case branch != "":
		return lookup(def, branch)
	case step.NextStepID != "":
		return lookup(def, step.NextStepID)
	case !step.HasRouting():
		// a condition with no edges at all ends the run on this branch
		return nil
	default:
		return sequential(def, index)
	}
}

// conditionResult reads the latest recorded conditionResult; anything missing counts as false.
func conditionResult(results []models.StepResult, stepID string) bool {
	result, ok := models.LatestResult(results, stepID)
	if !ok {
		return false
	}

	value, _ := result.Data["conditionResult"].(bool)

	return value
}

func lookup(def models.Definition, stepID string) models.Step {
	step, ok := def.Find(stepID)
	if !ok {
		return nil
	}

	return step
}

func sequential(def models.Definition, index int) models.Step {
	if index+1 < len(def.Steps) {
		return def.Steps[index+1]
	}

	return nil
}
