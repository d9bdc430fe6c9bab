// Package engine drives automation runs: it matches trigger events to rules, creates runs
// idempotently and walks each run's steps to a terminal state or an approval pause.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/matcher"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/runs"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the steps one invocation executes, so a cyclic definition cannot spin forever.
const DefaultMaxSteps = 1000

var ErrInvalidTrigger = errors.New("invalid trigger")

// TriggerRequest is a business event offered to the tenant's rules.
type TriggerRequest struct {
	TriggerType    models.TriggerType `json:"triggerType"           validate:"required"`
	OrganizationID string             `json:"organizationId"        validate:"required"`
	EventID        string             `json:"eventId"               validate:"required"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	TriggeredBy    string             `json:"triggeredBy,omitempty"`
}

// DispatchResult reports what a trigger caused. Failures inside runs are only visible on the run records.
type DispatchResult struct {
	Matched    int      `json:"matched"`
	Created    []string `json:"created"`
	Suppressed int      `json:"suppressed"`
}

// ActionExecutor runs an action step. It reports every failure in the result.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType models.ActionType, params map[string]any, actx models.ActionContext) models.ActionResult
}

// AuditSink records audit entries without blocking.
type AuditSink interface {
	Log(ctx context.Context, entry *models.AuditLogEntry)
}

type Engine struct {
	rules     persistence.RuleRepository
	matcher   *matcher.Matcher
	runs      *runs.Manager
	actions   ActionExecutor
	audit     AuditSink
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	maxSteps  int
	logger    *slog.Logger
}

type Option func(*Engine)

// WithEventPublisher publishes run lifecycle events on every transition.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithMaxSteps(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.maxSteps = limit
		}
	}
}

func New(
	store persistence.Persistence,
	actions ActionExecutor,
	audit AuditSink,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		rules:    store.Rules(),
		matcher:  matcher.NewMatcher(store.Rules(), logger),
		runs:     runs.NewManager(store.Runs(), logger),
		actions:  actions,
		audit:    audit,
		tracer:   otelhelper.Tracer(),
		maxSteps: DefaultMaxSteps,
		logger:   logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// DispatchTrigger matches the event against the tenant's active rules and executes a run for each
// match whose idempotency key is free. It returns an error only for an invalid request or a failed
// rule lookup.
func (e *Engine) DispatchTrigger(ctx context.Context, req TriggerRequest) (DispatchResult, error) {
	result := DispatchResult{Created: []string{}}

	err := models.Validator().Struct(req)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	if !req.TriggerType.Valid() {
		return result, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, req.TriggerType)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "autoflow.dispatch_trigger",
		otelhelper.OrganizationIDKey.String(req.OrganizationID),
		otelhelper.TriggerTypeKey.String(string(req.TriggerType)),
		otelhelper.EventIDKey.String(req.EventID),
	)
	defer span.End()

	logger := e.logger.With(
		"organization_id", req.OrganizationID,
		"trigger_type", req.TriggerType,
		"event_id", req.EventID,
	)

	rules, err := e.matcher.FindMatchingRules(ctx, req.TriggerType, req.OrganizationID, req.Metadata)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, err
	}

	result.Matched = len(rules)

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	for _, rule := range rules {
		run, created, err := e.runs.CreateRun(ctx, runs.CreateRunRequest{
			Rule: rule,
			TriggerContext: models.TriggerContext{
				TriggerType: req.TriggerType,
				EventID:     req.EventID,
				Metadata:    metadata,
			},
			TriggeredBy: req.TriggeredBy,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create run", "rule_id", rule.ID, "error", err)

			continue
		}

		if !created {
			logger.InfoContext(ctx, "duplicate trigger suppressed", "rule_id", rule.ID)

			result.Suppressed++

			continue
		}

		result.Created = append(result.Created, run.ID)

		e.execute(ctx, rule, run)
	}

	logger.InfoContext(ctx, "trigger dispatched",
		"matched", result.Matched,
		"created", len(result.Created),
		"suppressed", result.Suppressed,
	)

	return result, nil
}

// ResumeRun continues a run paused on an approval step, recording who approved it.
func (e *Engine) ResumeRun(ctx context.Context, runID, approvedBy string) (*models.WorkflowRun, error) {
	resumed, err := e.runs.ResumeRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ctx, span := e.runSpan(ctx, "autoflow.resume_run", resumed)
	defer span.End()

	e.publish(ctx, events.RunResumedEvent, resumed, "")

	if approvedBy == "" {
		approvedBy = models.SystemActor
	}

	resumed, err = e.runs.UpdateRunStep(ctx, runID, resumed.CurrentStepID, map[string]any{
		"approved":   true,
		"approvedBy": approvedBy,
	})
	if err != nil {
		e.abort(ctx, span, runID, err)

		return e.runs.GetRun(ctx, runID)
	}

	rule, err := e.rules.RuleByID(ctx, resumed.AutomationRuleID)

	switch {
	case err != nil:
		e.fail(ctx, span, runID, fmt.Sprintf("automation rule unavailable: %v", err))
	case !rule.IsActive:
		e.fail(ctx, span, runID, "automation rule is inactive")
	default:
		e.loop(ctx, span, rule, resumed)
	}

	return e.runs.GetRun(ctx, runID)
}

// CancelRun cancels a non-terminal run. A concurrent step append then fails its status check.
func (e *Engine) CancelRun(ctx context.Context, runID, reason string) (*models.WorkflowRun, error) {
	cancelled, err := e.runs.CancelRun(ctx, runID, reason)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "run cancelled", "run_id", runID, "reason", cancelled.FailureReason)
	e.publish(ctx, events.RunCancelledEvent, cancelled, cancelled.FailureReason)

	return cancelled, nil
}

func (e *Engine) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return e.runs.GetRun(ctx, runID)
}

func (e *Engine) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error) {
	return e.runs.ListRuns(ctx, filter)
}

func (e *Engine) execute(ctx context.Context, rule *models.AutomationRule, run *models.WorkflowRun) {
	ctx, span := e.runSpan(ctx, "autoflow.run", run)
	defer span.End()

	started, err := e.runs.StartRun(ctx, run.ID)
	if err != nil {
		e.abort(ctx, span, run.ID, err)

		return
	}

	e.logger.InfoContext(ctx, "run started", "run_id", run.ID, "rule_id", rule.ID)
	e.publish(ctx, events.RunStartedEvent, started, "")

	e.loop(ctx, span, rule, started)
}

// loop executes steps one at a time until the run terminates, pauses, or loses its status race.
func (e *Engine) loop(ctx context.Context, span trace.Span, rule *models.AutomationRule, run *models.WorkflowRun) {
	for executed := 0; ; executed++ {
		if executed >= e.maxSteps {
			e.fail(ctx, span, run.ID, fmt.Sprintf("step limit of %d exceeded", e.maxSteps))

			return
		}

		step := nextStep(rule, run)
		if step == nil {
			e.complete(ctx, span, run.ID)

			return
		}

		next, stop := e.step(ctx, span, run, step)
		if stop {
			return
		}

		run = next
	}
}

func (e *Engine) step(
	ctx context.Context,
	runSpan trace.Span,
	run *models.WorkflowRun,
	step models.Step,
) (*models.WorkflowRun, bool) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "autoflow.step",
		otelhelper.RunIDKey.String(run.ID),
		otelhelper.StepIDKey.String(step.StepID()),
		otelhelper.StepTypeKey.String(string(step.Type())),
	)
	defer span.End()

	logger := e.logger.With("run_id", run.ID, "step_id", step.StepID(), "step_type", step.Type())

	switch s := step.(type) {
	case *models.ActionStep:
		span.SetAttributes(otelhelper.ActionTypeKey.String(string(s.ActionType)))

		result := e.actions.Execute(ctx, s.ActionType, s.ActionParams, actionContext(run, s.ID))

		updated, err := e.runs.UpdateRunStep(ctx, run.ID, s.ID, result.ToMap())

		e.audit.Log(ctx, auditEntry(run, s, result))

		if err != nil {
			e.abort(ctx, runSpan, run.ID, err)

			return nil, true
		}

		if !result.Success {
			logger.InfoContext(ctx, "action failed", "action_type", s.ActionType, "reason", result.Error)
			otelhelper.SetFailure(span, result.Error)
			e.fail(ctx, runSpan, run.ID, result.Error)

			return nil, true
		}

		logger.DebugContext(ctx, "action executed", "action_type", s.ActionType, "skipped", result.Skipped)

		return updated, false
	case *models.ConditionStep:
		ok := conditions.Evaluate(s.Condition(), run.StepResults, run.TriggerContext)

		updated, err := e.runs.UpdateRunStep(ctx, run.ID, s.ID, map[string]any{"conditionResult": ok})
		if err != nil {
			e.abort(ctx, runSpan, run.ID, err)

			return nil, true
		}

		logger.DebugContext(ctx, "condition evaluated", "field", s.Field, "result", ok)

		return updated, false
	case *models.ApprovalStep:
		_, err := e.runs.UpdateRunStep(ctx, run.ID, s.ID, map[string]any{
			"approvalRequested": true,
			"approvers":         s.Approvers,
			"message":           s.Message,
		})
		if err != nil {
			e.abort(ctx, runSpan, run.ID, err)

			return nil, true
		}

		paused, err := e.runs.SetWaitingApproval(ctx, run.ID)
		if err != nil {
			e.abort(ctx, runSpan, run.ID, err)

			return nil, true
		}

		logger.InfoContext(ctx, "run waiting for approval", "approvers", s.Approvers)
		e.publish(ctx, events.RunPausedEvent, paused, "")

		return nil, true
	default:
		e.fail(ctx, runSpan, run.ID, fmt.Sprintf("unsupported step type %q", step.Type()))

		return nil, true
	}
}

func (e *Engine) complete(ctx context.Context, span trace.Span, runID string) {
	completed, err := e.runs.CompleteRun(ctx, runID)
	if err != nil {
		e.abort(ctx, span, runID, err)

		return
	}

	span.SetAttributes(otelhelper.RunStatusKey.String(string(completed.Status)))
	e.logger.InfoContext(ctx, "run completed", "run_id", runID)
	e.publish(ctx, events.RunCompletedEvent, completed, "")
}

func (e *Engine) fail(ctx context.Context, span trace.Span, runID, reason string) {
	failed, err := e.runs.FailRun(ctx, runID, reason)
	if err != nil {
		if persistence.IsInvalidTransition(err) {
			e.logger.InfoContext(ctx, "run already terminal, not failing", "run_id", runID, "reason", reason)

			return
		}

		e.logger.ErrorContext(ctx, "failed to mark run as failed", "run_id", runID, "reason", reason, "error", err)
		otelhelper.SetError(span, err)

		return
	}

	span.SetAttributes(otelhelper.RunStatusKey.String(string(failed.Status)))
	otelhelper.SetFailure(span, failed.FailureReason)
	e.logger.InfoContext(ctx, "run failed", "run_id", runID, "reason", failed.FailureReason)
	e.publish(ctx, events.RunFailedEvent, failed, failed.FailureReason)
}

// abort stops the loop after a store error. A lost status race means the run was cancelled or
// finished elsewhere and is left alone; anything else fails the run.
func (e *Engine) abort(ctx context.Context, span trace.Span, runID string, err error) {
	if persistence.IsInvalidTransition(err) {
		e.logger.InfoContext(ctx, "run changed concurrently, stopping", "run_id", runID, "error", err)

		return
	}

	e.logger.ErrorContext(ctx, "store error while executing run", "run_id", runID, "error", err)
	otelhelper.SetError(span, err)

	e.fail(ctx, span, runID, fmt.Sprintf("store error: %v", err))
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, run *models.WorkflowRun, reason string) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, run.ID, events.NewRunLifecycle(eventType, run, reason))
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish run event", "run_id", run.ID, "event_type", eventType, "error", err)
	}
}

// nolint:spancheck
func (e *Engine) runSpan(ctx context.Context, name string, run *models.WorkflowRun) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, e.tracer, name,
		otelhelper.RunIDKey.String(run.ID),
		otelhelper.RuleIDKey.String(run.AutomationRuleID),
		otelhelper.OrganizationIDKey.String(run.OrganizationID),
	)
}
