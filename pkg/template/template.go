// Package template renders action parameters and per-recipient content from run data.
package template

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// Recipient is one resolved target of a multi-target action.
type Recipient struct {
	Email  string         `json:"email"`
	Name   string         `json:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Data builds the template data of a run: trigger metadata, the latest result of each step,
// and the recipient being rendered for, if any.
func Data(actx models.ActionContext, results []models.StepResult, recipient *Recipient) map[string]any {
	steps := make(map[string]any, len(results))
	for _, result := range results {
		steps[result.StepID] = result.Data
	}

	data := map[string]any{
		"trigger":        actx.TriggerContext.Metadata,
		"triggerType":    string(actx.TriggerContext.TriggerType),
		"eventId":        actx.TriggerContext.EventID,
		"organizationId": actx.OrganizationID,
		"lineageId":      actx.LineageID,
		"steps":          steps,
		"run": map[string]any{
			"id":     actx.RunID,
			"stepId": actx.StepID,
		},
	}

	if recipient != nil {
		data["recipient"] = map[string]any{
			"email":  recipient.Email,
			"name":   recipient.Name,
			"fields": recipient.Fields,
		}
	}

	return data
}

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

func parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.
		New("content").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderText renders templateStr as plain text, for subjects and bodies.
func RenderText(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render renders templateStr and decodes the output into a JSON value, number or bool when it looks like one.
func Render(templateStr string, data any) (any, error) {
	text, err := RenderText(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(text)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil && !math.IsNaN(num) && !math.IsInf(num, 0) {
		return num, nil
	}

	if result == "true" || result == "false" {
		return result == "true", nil
	}

	return result, nil
}

// RenderParams renders every templated string value of params, recursing into maps and slices.
// Templated values go through Render, so they may come back as numbers, bools or JSON documents.
// The top-level keys in textKeys are rendered with RenderText and stay strings.
func RenderParams(params map[string]any, data any, textKeys ...string) (map[string]any, error) {
	out := make(map[string]any, len(params))

	for key, value := range params {
		var (
			rendered any
			err      error
		)

		if text, ok := value.(string); ok && slices.Contains(textKeys, key) {
			rendered, err = RenderText(text, data)
		} else {
			rendered, err = renderValue(value, data)
		}

		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}

		out[key] = rendered
	}

	return out, nil
}

func renderValue(value, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		return RenderParams(v, data)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}
