package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/testutil"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAudit struct{}

func (nopAudit) Log(context.Context, *models.AuditLogEntry) {}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store := memory.NewPersistence(testutil.CreateTestRule())
	dispatcher := actions.NewDispatcher(nil, actions.LogCollaborators(slog.Default()), slog.Default())

	return NewAPI(slog.Default(), engine.New(store, dispatcher, nopAudit{}, slog.Default()), store).App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "autoflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestAPI_TriggerCompletesRun(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(
		`{"triggerType": "data_uploaded", "organizationId": "org-1", "eventId": "upload-1"}`,
	))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out web.TriggerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	_ = resp.Body.Close()
	require.Len(t, out.Created, 1)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/runs/"+out.Created[0], nil))
	require.NoError(t, err)

	var run models.WorkflowRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	_ = resp.Body.Close()

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.Len(t, run.StepResults, 1)
	assert.Equal(t, "task", run.StepResults[0].StepID)
}
