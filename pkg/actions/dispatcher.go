// Package actions executes the side effects of action steps behind a permission check.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/permissions"
	"github.com/dukex/autoflow/pkg/template"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action type")
	ErrInvalidParams     = errors.New("invalid action params")
	ErrTemplateMissing   = errors.New("template missing")
)

// PermissionChecker returns "" when the action is allowed, or the denial reason.
type PermissionChecker interface {
	Check(ctx context.Context, actx models.ActionContext, actionType models.ActionType) string
}

// Dispatcher routes an action type to its handler. It never returns an error: every failure,
// including a handler panic, is reported in the ActionResult.
type Dispatcher struct {
	permissions PermissionChecker
	collab      Collaborators
	logger      *slog.Logger
}

func NewDispatcher(checker PermissionChecker, collab Collaborators, logger *slog.Logger) *Dispatcher {
	if checker == nil {
		checker = (*permissions.Checker)(nil)
	}

	return &Dispatcher{
		permissions: checker,
		collab:      collab,
		logger:      logger.With("module", "actions"),
	}
}

func (d *Dispatcher) Execute(
	ctx context.Context,
	actionType models.ActionType,
	params map[string]any,
	actx models.ActionContext,
) (result models.ActionResult) {
	logger := d.logger.With("action_type", actionType, "run_id", actx.RunID, "step_id", actx.StepID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "action handler panicked", "panic", r)

			result = models.ActionResult{
				Success:    false,
				Error:      fmt.Sprintf("action handler panicked: %v", r),
				TargetType: actionType.TargetType(),
				TargetID:   result.TargetID,
			}
		}
	}()

	if actionType.PermissionKey() == "" {
		return models.ActionResult{Success: false, Error: ErrUnsupportedAction.Error()}
	}

	if reason := d.permissions.Check(ctx, actx, actionType); reason != "" {
		logger.InfoContext(ctx, "action denied", "reason", reason, "triggered_by", actx.TriggeredBy)

		return models.ActionResult{Success: false, Error: reason, TargetType: actionType.TargetType()}
	}

	result, err := d.handle(ctx, actionType, params, actx)
	if err != nil {
		logger.WarnContext(ctx, "action failed", "error", err)

		return models.ActionResult{
			Success:    false,
			Error:      err.Error(),
			TargetType: actionType.TargetType(),
			TargetID:   result.TargetID,
		}
	}

	if result.TargetType == "" {
		result.TargetType = actionType.TargetType()
	}

	logger.DebugContext(ctx, "action executed", "success", result.Success, "skipped", result.Skipped)

	return result
}

func (d *Dispatcher) handle(
	ctx context.Context,
	actionType models.ActionType,
	params map[string]any,
	actx models.ActionContext,
) (models.ActionResult, error) {
	switch actionType {
	case models.ActionSendRequest:
		return d.sendRequest(ctx, params, actx)
	case models.ActionSendEmail:
		return d.sendEmail(ctx, params, actx)
	case models.ActionGenerateReport:
		return d.generateReport(ctx, params, actx)
	case models.ActionCreateTask:
		return d.createTask(ctx, params, actx)
	case models.ActionResolveReconciliation:
		return d.resolveReconciliation(ctx, params, actx)
	default:
		return models.ActionResult{}, ErrUnsupportedAction
	}
}

// renderParams renders templated params against the run, leaving the keys in raw untouched
// so they can be rendered per recipient. Params that decode into a string field of T stay text.
func renderParams[T any](params map[string]any, actx models.ActionContext, raw ...string) (map[string]any, error) {
	kept := make(map[string]any, len(raw))
	rest := make(map[string]any, len(params))

	for key, value := range params {
		rest[key] = value
	}

	for _, key := range raw {
		if value, ok := rest[key]; ok {
			kept[key] = value
			delete(rest, key)
		}
	}

	data := template.Data(actx, actx.StepResults, nil)

	rendered, err := template.RenderParams(rest, data, textFields[T]()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	if spec, ok := rest["recipients"].(map[string]any); ok {
		rendered["recipients"], err = template.RenderParams(spec, data, textFields[RecipientSpec]()...)
		if err != nil {
			return nil, fmt.Errorf("%w: recipients: %w", ErrInvalidParams, err)
		}
	}

	for key, value := range kept {
		rendered[key] = value
	}

	return rendered, nil
}

// textFields lists the json names of the string fields of struct T.
func textFields[T any]() []string {
	typ := reflect.TypeFor[T]()
	names := make([]string, 0, typ.NumField())

	for i := range typ.NumField() {
		field := typ.Field(i)
		if field.Type.Kind() != reflect.String {
			continue
		}

		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" {
			name = field.Name
		}

		names = append(names, name)
	}

	return names
}

func decodeParams[T any](params map[string]any) (T, error) {
	var out T

	data, err := json.Marshal(params)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	err = json.Unmarshal(data, &out)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	err = models.Validator().Struct(out)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	return out, nil
}

func notConfigured(name string) error {
	return fmt.Errorf("%s is not configured", name)
}
