// Package webhook implements the action collaborators over HTTP. Side effects are JSON POSTs and
// directory lookups are GETs, all under one base URL and retried on server errors.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/models"
)

const defaultTimeoutSeconds = 30

var (
	// ErrBaseURLInvalid is returned when the client has no base URL.
	ErrBaseURLInvalid = errors.New("invalid webhook base URL")
	// ErrServerError is returned when the collaborator keeps answering with a 5xx status.
	ErrServerError = errors.New("server error during webhook call")
	// ErrRejected is returned for 4xx answers.
	ErrRejected = errors.New("webhook call rejected")
)

// RetryConfig defines retry behavior for webhook calls.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// Client posts action requests to an external system.
type Client struct {
	BaseURL string
	Headers map[string]string
	Retry   RetryConfig

	http   *http.Client
	logger *slog.Logger
}

func NewClient(baseURL string, headers map[string]string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLInvalid
	}

	if headers == nil {
		headers = map[string]string{}
	}

	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Headers: headers,
		Retry:   RetryConfig{Attempts: 3, Delay: time.Second},
		http:    &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger:  logger.With("module", "webhook"),
	}, nil
}

// Collaborators wires the client into every collaborator slot of the dispatcher but the templates.
func (c *Client) Collaborators(templates actions.TemplateStore) actions.Collaborators {
	return actions.Collaborators{
		Mailer:    c,
		Requests:  c,
		Reports:   c,
		Tasks:     c,
		Reconcile: c,
		Contacts:  c,
		DataRows:  c,
		History:   c,
		Templates: templates,
	}
}

type response struct {
	ID string `json:"id"`
}

func (c *Client) SendEmail(ctx context.Context, email actions.Email) (string, error) {
	return c.post(ctx, "/emails", email)
}

func (c *Client) SendRequest(ctx context.Context, request actions.FormRequest) (string, error) {
	return c.post(ctx, "/form-requests", request)
}

func (c *Client) GenerateReport(ctx context.Context, request actions.ReportRequest) (string, error) {
	return c.post(ctx, "/reports", request)
}

func (c *Client) CreateTask(ctx context.Context, request actions.TaskRequest) (string, error) {
	return c.post(ctx, "/tasks", request)
}

func (c *Client) ResolveReconciliation(ctx context.Context, request actions.ReconciliationRequest) error {
	_, err := c.post(ctx, "/reconciliations/"+request.ReconciliationID+"/resolve", request)

	return err
}

func (c *Client) ContactsByGroup(ctx context.Context, organizationID, groupID string) ([]actions.Recipient, error) {
	var recipients []actions.Recipient

	err := c.get(ctx, "/contacts", url.Values{"organizationId": {organizationID}, "groupId": {groupID}}, &recipients)

	return recipients, err
}

func (c *Client) ContactsByType(ctx context.Context, organizationID, contactType string) ([]actions.Recipient, error) {
	var recipients []actions.Recipient

	err := c.get(ctx, "/contacts", url.Values{"organizationId": {organizationID}, "contactType": {contactType}}, &recipients)

	return recipients, err
}

func (c *Client) Rows(ctx context.Context, organizationID, configID string) ([]map[string]any, error) {
	var rows []map[string]any

	err := c.get(ctx, "/data-sets/"+url.PathEscape(configID)+"/rows", url.Values{"organizationId": {organizationID}}, &rows)

	return rows, err
}

func (c *Client) PriorRecipients(
	ctx context.Context,
	organizationID, lineageID string,
	actionType models.ActionType,
) ([]actions.Recipient, error) {
	var recipients []actions.Recipient

	err := c.get(ctx, "/lineages/"+url.PathEscape(lineageID)+"/recipients", url.Values{
		"organizationId": {organizationID},
		"actionType":     {string(actionType)},
	}, &recipients)

	return recipients, err
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal body: %w", err)
	}

	var parsed response

	err = c.call(ctx, http.MethodPost, path, body, &parsed)
	if err != nil {
		return "", err
	}

	return parsed.ID, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path+"?"+query.Encode(), nil, out)
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	attempts := max(c.Retry.Attempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.InfoContext(ctx, "webhook retry", "attempt", attempt, "attempts", attempts, "path", path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Retry.Delay):
			}
		}

		retry, err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		lastErr = err

		if !retry {
			break
		}
	}

	return fmt.Errorf("webhook %s %s failed: %w", method, path, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create http request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	for key, value := range c.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if len(respBody) == 0 {
		return false, nil
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		if method == http.MethodPost {
			c.logger.WarnContext(ctx, "failed to parse response as JSON", "error", err, "path", path)

			return false, nil
		}

		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return false, nil
}
