// Package web provides the HTTP handlers of the automation API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const maxListLimit = 500

// Engine is the part of engine.Engine the API drives.
type Engine interface {
	DispatchTrigger(ctx context.Context, req engine.TriggerRequest) (engine.DispatchResult, error)
	ResumeRun(ctx context.Context, runID, approvedBy string) (*models.WorkflowRun, error)
	CancelRun(ctx context.Context, runID, reason string) (*models.WorkflowRun, error)
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine    Engine
	health    HealthChecker
	validator *validator.Validate
}

func NewAPIHandlers(engine Engine, health HealthChecker, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		health:    health,
		validator: validator,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Post("/triggers", h.DispatchTrigger)

	r := app.Group("/runs")
	r.Get("/", h.ListRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/resume", h.ResumeRun)
	r.Post("/:id/cancel", h.CancelRun)

	app.Get("/health", h.HealthCheck)
}

// DispatchTrigger offers a business event to the tenant's rules. Runs execute before the response is sent.
func (h *APIHandlers) DispatchTrigger(c fiber.Ctx) error {
	var req engine.TriggerRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.DispatchTrigger(c.Context(), req)
	if err != nil {
		return handleEngineError(c, err)
	}

	status := fiber.StatusOK
	if len(result.Created) > 0 {
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(TriggerResponse{DispatchResult: result, EventID: req.EventID})
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	filter, err := parseRunFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	runs, err := h.engine.ListRuns(c.Context(), filter)
	if err != nil {
		return handleEngineError(c, err)
	}

	if runs == nil {
		runs = []*models.WorkflowRun{}
	}

	return c.JSON(RunListResponse{Runs: runs, Count: len(runs)})
}

func parseRunFilter(c fiber.Ctx) (persistence.RunFilter, error) {
	filter := persistence.RunFilter{
		OrganizationID:   c.Query("organization_id"),
		AutomationRuleID: c.Query("rule_id"),
		Status:           models.RunStatus(c.Query("status")),
	}

	if filter.OrganizationID == "" {
		return filter, errors.New("organization_id is required")
	}

	if filter.Status != "" && !validStatus(filter.Status) {
		return filter, fmt.Errorf("unknown status %q", filter.Status)
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, err
		}

		if limit < 0 || limit > maxListLimit {
			return filter, fmt.Errorf("limit must be between 0 and %d", maxListLimit)
		}

		filter.Limit = limit
	}

	return filter, nil
}

func validStatus(status models.RunStatus) bool {
	switch status {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusWaitingApproval,
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		return true
	default:
		return false
	}
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")

	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.engine.GetRun(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	if org := c.Query("organization_id"); org != "" && org != run.OrganizationID {
		return notFound(c, "workflow run not found")
	}

	return c.JSON(run)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	id := c.Params("id")

	var req ResumeRunRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.engine.ResumeRun(c.Context(), id, req.ApprovedBy)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")

	var req CancelRunRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	run, err := h.engine.CancelRun(c.Context(), id, req.Reason)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "autoflow API is healthy"
	httpStatus := http.StatusOK
	repository := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "autoflow API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repository = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"timestamp": time.Now().UTC(),
	})
}
