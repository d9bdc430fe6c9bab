package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// RunEngine is the part of the engine the worker drives.
type RunEngine interface {
	DispatchTrigger(ctx context.Context, req engine.TriggerRequest) (engine.DispatchResult, error)
	ResumeRun(ctx context.Context, runID, approvedBy string) (*models.WorkflowRun, error)
	CancelRun(ctx context.Context, runID, reason string) (*models.WorkflowRun, error)
}

// Starter is a background trigger source the worker runs alongside the bus.
type Starter interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

type WorkerManager struct {
	id       string
	logger   *slog.Logger
	engine   RunEngine
	eventBus eventbus.EventBus
	sources  []Starter
}

func NewWorkerManager(
	id string,
	engine RunEngine,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	sources ...Starter,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "autoflow-worker", "worker_id", id),
		engine:   engine,
		eventBus: eventBus,
		sources:  sources,
	}
}

// Subscribe registers the handlers and starts consuming the bus and every source.
func (w *WorkerManager) Subscribe(ctx context.Context) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.TriggerReceivedEvent:    w.handleTriggerReceived,
		events.ApprovalGrantedEvent:    w.handleApprovalGranted,
		events.RunCancelRequestedEvent: w.handleRunCancelRequested,
	}

	for eventType, handler := range handlers {
		err := w.eventBus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	err := w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	for _, source := range w.sources {
		source.Start(ctx)
	}

	return nil
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.Subscribe(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")
	w.Stop(ctx)

	return nil
}

func (w *WorkerManager) Stop(ctx context.Context) {
	for _, source := range w.sources {
		source.Stop(ctx)
	}
}

func (w *WorkerManager) handleTriggerReceived(ctx context.Context, event any) error {
	trigger, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With(
		"organization_id", trigger.OrganizationID,
		"trigger_type", trigger.TriggerType,
		"event_id", trigger.EventID,
	)
	logger.InfoContext(ctx, "Processing trigger received event")

	result, err := w.engine.DispatchTrigger(ctx, engine.TriggerRequest{
		TriggerType:    trigger.TriggerType,
		OrganizationID: trigger.OrganizationID,
		EventID:        trigger.EventID,
		Metadata:       trigger.Metadata,
		TriggeredBy:    trigger.TriggeredBy,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTrigger) {
			logger.WarnContext(ctx, "Dropping invalid trigger", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to dispatch trigger", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Trigger dispatched",
		"matched", result.Matched,
		"created", len(result.Created),
		"suppressed", result.Suppressed,
	)

	return nil
}

func (w *WorkerManager) handleApprovalGranted(ctx context.Context, event any) error {
	approval, ok := event.(*events.ApprovalGranted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ApprovalGranted")

		return nil
	}

	logger := w.logger.With("run_id", approval.RunID, "approved_by", approval.ApprovedBy)
	logger.InfoContext(ctx, "Processing approval granted event")

	run, err := w.engine.ResumeRun(ctx, approval.RunID, approval.ApprovedBy)

	return w.settle(ctx, logger, run, err)
}

func (w *WorkerManager) handleRunCancelRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.RunCancelRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunCancelRequested")

		return nil
	}

	logger := w.logger.With("run_id", request.RunID, "requested_by", request.RequestedBy)
	logger.InfoContext(ctx, "Processing run cancel requested event")

	run, err := w.engine.CancelRun(ctx, request.RunID, request.Reason)

	return w.settle(ctx, logger, run, err)
}

// settle acknowledges requests that can never succeed: unknown runs and runs no longer in a
// state that accepts the request.
func (w *WorkerManager) settle(ctx context.Context, logger *slog.Logger, run *models.WorkflowRun, err error) error {
	switch {
	case err == nil:
		logger.InfoContext(ctx, "Run updated", "status", run.Status)

		return nil
	case persistence.IsRunNotFound(err), persistence.IsInvalidTransition(err):
		logger.WarnContext(ctx, "Ignoring request", "error", err)

		return nil
	default:
		logger.ErrorContext(ctx, "Failed to update run", "error", err)

		return err
	}
}
