package webhook_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/actions/webhook"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	_, err := webhook.NewClient("", nil, slog.Default())
	require.ErrorIs(t, err, webhook.ErrBaseURLInvalid)

	client, err := webhook.NewClient("https://hooks.example.com/", nil, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com", client.BaseURL)
}

func TestClient_SendEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "/emails", request.URL.Path)
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer token123", request.Header.Get("Authorization"))

		var email actions.Email
		assert.NoError(t, json.NewDecoder(request.Body).Decode(&email))
		assert.Equal(t, "a@x.io", email.To.Email)

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"id": "msg-1"}`))
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, map[string]string{"Authorization": "Bearer token123"}, slog.Default())
	require.NoError(t, err)

	id, err := client.SendEmail(context.Background(), actions.Email{To: actions.Recipient{Email: "a@x.io"}, Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writer.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = writer.Write([]byte(`{"id": "task-1"}`))
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, nil, slog.Default())
	require.NoError(t, err)

	client.Retry = webhook.RetryConfig{Attempts: 3, Delay: time.Millisecond}

	id, err := client.CreateTask(context.Background(), actions.TaskRequest{Title: "close books"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/reconciliations/rec-1/resolve", request.URL.Path)
		writer.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = writer.Write([]byte("already resolved"))
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, nil, slog.Default())
	require.NoError(t, err)

	client.Retry = webhook.RetryConfig{Attempts: 3, Delay: time.Millisecond}

	err = client.ResolveReconciliation(context.Background(), actions.ReconciliationRequest{ReconciliationID: "rec-1"})
	require.ErrorIs(t, err, webhook.ErrRejected)
	assert.Contains(t, err.Error(), "already resolved")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, nil, slog.Default())
	require.NoError(t, err)

	client.Retry = webhook.RetryConfig{Attempts: 2, Delay: time.Millisecond}

	_, err = client.GenerateReport(context.Background(), actions.ReportRequest{ReportType: "variance"})
	require.ErrorIs(t, err, webhook.ErrServerError)
}

func TestClient_DirectoryLookups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodGet, request.Method)
		assert.Equal(t, "org-1", request.URL.Query().Get("organizationId"))

		switch request.URL.Path {
		case "/contacts":
			if request.URL.Query().Get("groupId") == "finance" {
				_, _ = writer.Write([]byte(`[{"email": "f@x.io", "name": "Fin"}]`))

				return
			}

			assert.Equal(t, "vendor", request.URL.Query().Get("contactType"))
			_, _ = writer.Write([]byte(`[{"email": "v@x.io"}, {"email": "w@x.io"}]`))
		case "/data-sets/cfg-9/rows":
			_, _ = writer.Write([]byte(`[{"email": "r@x.io", "vendor": "Acme"}]`))
		case "/lineages/lin-1/recipients":
			assert.Equal(t, "send_email", request.URL.Query().Get("actionType"))
			_, _ = writer.Write([]byte(`[{"email": "p@x.io"}]`))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, nil, slog.Default())
	require.NoError(t, err)

	ctx := context.Background()

	group, err := client.ContactsByGroup(ctx, "org-1", "finance")
	require.NoError(t, err)
	assert.Equal(t, []actions.Recipient{{Email: "f@x.io", Name: "Fin"}}, group)

	byType, err := client.ContactsByType(ctx, "org-1", "vendor")
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	rows, err := client.Rows(ctx, "org-1", "cfg-9")
	require.NoError(t, err)
	assert.Equal(t, "Acme", rows[0]["vendor"])

	prior, err := client.PriorRecipients(ctx, "org-1", "lin-1", models.ActionSendEmail)
	require.NoError(t, err)
	assert.Equal(t, "p@x.io", prior[0].Email)
}

func TestClient_DirectoryLookupRejectsBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte(`not json`))
	}))
	defer server.Close()

	client, err := webhook.NewClient(server.URL, nil, slog.Default())
	require.NoError(t, err)

	_, err = client.ContactsByGroup(context.Background(), "org-1", "finance")
	require.Error(t, err)
}
