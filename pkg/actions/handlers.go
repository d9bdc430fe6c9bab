package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

type sendEmailParams struct {
	CampaignID string        `json:"campaignId,omitempty"`
	TemplateID string        `json:"templateId,omitempty"`
	Subject    string        `json:"subject,omitempty"`
	Body       string        `json:"body,omitempty"`
	Recipients RecipientSpec `json:"recipients"           validate:"required"`
}

type sendRequestParams struct {
	FormDefinitionID string        `json:"formDefinitionId"    validate:"required"`
	TemplateID       string        `json:"templateId,omitempty"`
	Message          string        `json:"message,omitempty"`
	DueInDays        int           `json:"dueInDays,omitempty" validate:"gte=0"`
	Recipients       RecipientSpec `json:"recipients"          validate:"required"`
}

type generateReportParams struct {
	ReportType string         `json:"reportType"         validate:"required"`
	ConfigID   string         `json:"configId,omitempty"`
	Format     string         `json:"format,omitempty"   validate:"omitempty,oneof=pdf xlsx csv"`
	Params     map[string]any `json:"params,omitempty"`
}

type createTaskParams struct {
	Title       string `json:"title"                validate:"required"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	DueInDays   int    `json:"dueInDays,omitempty"  validate:"gte=0"`
}

type resolveReconciliationParams struct {
	ReconciliationID string `json:"reconciliationId" validate:"required"`
	Resolution       string `json:"resolution"       validate:"required"`
	Note             string `json:"note,omitempty"`
}

var contentKeys = []string{"subject", "body", "message"}

func (d *Dispatcher) sendEmail(ctx context.Context, raw map[string]any, actx models.ActionContext) (models.ActionResult, error) {
	rendered, err := renderParams[sendEmailParams](raw, actx, contentKeys...)
	if err != nil {
		return models.ActionResult{}, err
	}

	params, err := decodeParams[sendEmailParams](rendered)
	if err != nil {
		return models.ActionResult{}, err
	}

	target := models.ActionResult{TargetType: models.ActionSendEmail.TargetType(), TargetID: params.CampaignID}

	if d.collab.Mailer == nil {
		return target, notConfigured("mailer")
	}

	content, err := d.content(ctx, actx, params.TemplateID, params.Subject, params.Body)
	if err != nil {
		return target, err
	}

	recipients, err := d.resolveRecipients(ctx, params.Recipients, models.ActionSendEmail, actx)
	if err != nil {
		return target, err
	}

	result := fanOut(ctx, recipients, func(ctx context.Context, recipient Recipient) error {
		data := template.Data(actx, actx.StepResults, &recipient)

		subject, err := template.RenderText(content.Subject, data)
		if err != nil {
			return err
		}

		body, err := template.RenderText(content.Body, data)
		if err != nil {
			return err
		}

		_, err = d.collab.Mailer.SendEmail(ctx, Email{
			OrganizationID: actx.OrganizationID,
			CampaignID:     params.CampaignID,
			To:             recipient,
			Subject:        subject,
			Body:           body,
		})

		return err
	})

	result.TargetType = target.TargetType
	result.TargetID = target.TargetID

	return result, nil
}

func (d *Dispatcher) sendRequest(ctx context.Context, raw map[string]any, actx models.ActionContext) (models.ActionResult, error) {
	rendered, err := renderParams[sendRequestParams](raw, actx, contentKeys...)
	if err != nil {
		return models.ActionResult{}, err
	}

	params, err := decodeParams[sendRequestParams](rendered)
	if err != nil {
		return models.ActionResult{}, err
	}

	target := models.ActionResult{TargetType: models.ActionSendRequest.TargetType(), TargetID: params.FormDefinitionID}

	if d.collab.Requests == nil {
		return target, notConfigured("request sender")
	}

	message := params.Message
	if params.TemplateID != "" {
		content, err := d.content(ctx, actx, params.TemplateID, "", "")
		if err != nil {
			return target, err
		}

		message = content.Body
	}

	recipients, err := d.resolveRecipients(ctx, params.Recipients, models.ActionSendRequest, actx)
	if err != nil {
		return target, err
	}

	result := fanOut(ctx, recipients, func(ctx context.Context, recipient Recipient) error {
		text, err := template.RenderText(message, template.Data(actx, actx.StepResults, &recipient))
		if err != nil {
			return err
		}

		_, err = d.collab.Requests.SendRequest(ctx, FormRequest{
			OrganizationID:   actx.OrganizationID,
			FormDefinitionID: params.FormDefinitionID,
			Recipient:        recipient,
			Message:          text,
			DueInDays:        params.DueInDays,
			LineageID:        actx.LineageID,
		})

		return err
	})

	result.TargetType = target.TargetType
	result.TargetID = target.TargetID

	return result, nil
}

func (d *Dispatcher) generateReport(ctx context.Context, raw map[string]any, actx models.ActionContext) (models.ActionResult, error) {
	rendered, err := renderParams[generateReportParams](raw, actx)
	if err != nil {
		return models.ActionResult{}, err
	}

	params, err := decodeParams[generateReportParams](rendered)
	if err != nil {
		return models.ActionResult{}, err
	}

	if d.collab.Reports == nil {
		return models.ActionResult{}, notConfigured("report generator")
	}

	reportID, err := d.collab.Reports.GenerateReport(ctx, ReportRequest{
		OrganizationID: actx.OrganizationID,
		ReportType:     params.ReportType,
		ConfigID:       params.ConfigID,
		Format:         params.Format,
		Params:         params.Params,
	})
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("failed to generate report: %w", err)
	}

	return models.ActionResult{
		Success:  true,
		TargetID: reportID,
		Data:     map[string]any{"reportId": reportID, "reportType": params.ReportType},
	}, nil
}

func (d *Dispatcher) createTask(ctx context.Context, raw map[string]any, actx models.ActionContext) (models.ActionResult, error) {
	rendered, err := renderParams[createTaskParams](raw, actx)
	if err != nil {
		return models.ActionResult{}, err
	}

	params, err := decodeParams[createTaskParams](rendered)
	if err != nil {
		return models.ActionResult{}, err
	}

	if d.collab.Tasks == nil {
		return models.ActionResult{}, notConfigured("task service")
	}

	taskID, err := d.collab.Tasks.CreateTask(ctx, TaskRequest{
		OrganizationID: actx.OrganizationID,
		Title:          params.Title,
		Description:    params.Description,
		AssigneeID:     params.AssigneeID,
		DueInDays:      params.DueInDays,
		LineageID:      actx.LineageID,
		RunID:          actx.RunID,
	})
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("failed to create task: %w", err)
	}

	return models.ActionResult{
		Success:  true,
		TargetID: taskID,
		Data:     map[string]any{"taskId": taskID},
	}, nil
}

func (d *Dispatcher) resolveReconciliation(
	ctx context.Context,
	raw map[string]any,
	actx models.ActionContext,
) (models.ActionResult, error) {
	rendered, err := renderParams[resolveReconciliationParams](raw, actx)
	if err != nil {
		return models.ActionResult{}, err
	}

	params, err := decodeParams[resolveReconciliationParams](rendered)
	if err != nil {
		return models.ActionResult{}, err
	}

	target := models.ActionResult{TargetID: params.ReconciliationID}

	if d.collab.Reconcile == nil {
		return target, notConfigured("reconciler")
	}

	resolvedBy := actx.TriggeredBy
	if resolvedBy == "" {
		resolvedBy = models.SystemActor
	}

	err = d.collab.Reconcile.ResolveReconciliation(ctx, ReconciliationRequest{
		OrganizationID:   actx.OrganizationID,
		ReconciliationID: params.ReconciliationID,
		Resolution:       params.Resolution,
		Note:             params.Note,
		ResolvedBy:       resolvedBy,
	})
	if err != nil {
		return target, fmt.Errorf("failed to resolve reconciliation: %w", err)
	}

	return models.ActionResult{
		Success:  true,
		TargetID: params.ReconciliationID,
		Data:     map[string]any{"resolution": params.Resolution},
	}, nil
}

// content returns the stored template when templateID is set, otherwise the inline subject and body.
func (d *Dispatcher) content(ctx context.Context, actx models.ActionContext, templateID, subject, body string) (Template, error) {
	if templateID == "" {
		if body == "" {
			return Template{}, ErrTemplateMissing
		}

		return Template{Subject: subject, Body: body}, nil
	}

	if d.collab.Templates == nil {
		return Template{}, ErrTemplateMissing
	}

	tmpl, err := d.collab.Templates.Template(ctx, actx.OrganizationID, templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return Template{}, ErrTemplateMissing
		}

		return Template{}, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	if tmpl == nil {
		return Template{}, ErrTemplateMissing
	}

	return *tmpl, nil
}

// fanOut calls send once per recipient. Partial failure is still a success; only a run where every
// send failed is reported as failed.
func fanOut(ctx context.Context, recipients []Recipient, send func(context.Context, Recipient) error) models.ActionResult {
	if len(recipients) == 0 {
		return models.ActionResult{
			Success: true,
			Skipped: true,
			Data:    map[string]any{"sent": 0, "attempted": 0, "failures": []any{}},
		}
	}

	sent := 0
	failures := make([]any, 0)

	for _, recipient := range recipients {
		err := send(ctx, recipient)
		if err != nil {
			failures = append(failures, map[string]any{"email": recipient.Email, "error": err.Error()})

			continue
		}

		sent++
	}

	data := map[string]any{"sent": sent, "attempted": len(recipients), "failures": failures}

	if sent == 0 {
		first, _ := failures[0].(map[string]any)

		return models.ActionResult{
			Success: false,
			Data:    data,
			Error:   fmt.Sprintf("all %d sends failed: %v", len(recipients), first["error"]),
		}
	}

	return models.ActionResult{Success: true, Data: data}
}
