package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator returns the shared struct validator used by the models package.
func Validator() *validator.Validate {
	return validate
}

// definitionSchema is the JSON Schema persisted definitions must satisfy before typed decoding.
var definitionSchema = map[string]any{
	"type":     "object",
	"required": []any{"steps"},
	"properties": map[string]any{
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type"},
				"properties": map[string]any{
					"id":           map[string]any{"type": "string", "minLength": 1},
					"type":         map[string]any{"enum": []any{"action", "condition", "approval"}},
					"actionType":   map[string]any{"type": "string"},
					"actionParams": map[string]any{"type": []any{"object", "null"}},
					"field":        map[string]any{"type": "string"},
					"operator":     map[string]any{"type": "string"},
					"onTrue":       map[string]any{"type": "string"},
					"onFalse":      map[string]any{"type": "string"},
					"nextStepId":   map[string]any{"type": "string"},
					"message":      map[string]any{"type": "string"},
					"approvers": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
		},
	},
}

func validateDefinitionSchema(document []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(definitionSchema)
	dataLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}

	return nil
}
