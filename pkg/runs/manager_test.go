package runs_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/runs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func request(eventID string) runs.CreateRunRequest {
	return runs.CreateRunRequest{
		Rule: &models.AutomationRule{ID: "rule-1", OrganizationID: "org-1", TriggerType: models.TriggerDataUploaded},
		TriggerContext: models.TriggerContext{
			TriggerType: models.TriggerDataUploaded,
			EventID:     eventID,
			Metadata:    map[string]any{"configId": "c1"},
		},
		TriggeredBy: "user-1",
	}
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "rule-1:data_uploaded:evt-9", runs.IdempotencyKey("rule-1", models.TriggerDataUploaded, "evt-9"))
}

func TestCreateRun(t *testing.T) {
	manager := runs.NewManager(memory.NewPersistence(), slog.Default())
	ctx := context.Background()

	run, created, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, "rule-1:data_uploaded:evt-1", run.IdempotencyKey)
	assert.Equal(t, "org-1", run.OrganizationID)
	assert.Equal(t, "user-1", run.TriggeredBy)

	existing, created, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, existing)
	assert.Equal(t, run.ID, existing.ID)

	other, created, err := manager.CreateRun(ctx, request("evt-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, run.ID, other.ID)
}

func TestCreateRun_NewRunAfterTerminal(t *testing.T) {
	manager := runs.NewManager(memory.NewPersistence(), slog.Default())
	ctx := context.Background()

	run, _, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)

	_, err = manager.StartRun(ctx, run.ID)
	require.NoError(t, err)

	_, err = manager.CompleteRun(ctx, run.ID)
	require.NoError(t, err)

	retry, created, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, run.ID, retry.ID)
}

func TestCreateRun_ConcurrentDuplicates(t *testing.T) {
	manager := runs.NewManager(memory.NewPersistence(), slog.Default())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, ok, err := manager.CreateRun(ctx, request("evt-1"))
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)
}

func TestCreateRun_DuplicateRaceIsNoOp(t *testing.T) {
	repo := &mocks.MockRunRepository{}
	repo.On("ActiveRunByIdempotencyKey", mock.Anything, "rule-1:data_uploaded:evt-1").
		Return(nil, persistence.NewRunError("ActiveRunByIdempotencyKey", "k", persistence.ErrRunNotFound))
	repo.On("CreateRun", mock.Anything, mock.AnythingOfType("*models.WorkflowRun")).
		Return(persistence.NewRunError("CreateRun", "x", persistence.ErrDuplicateIdempotencyKey))

	manager := runs.NewManager(repo, slog.Default())

	run, created, err := manager.CreateRun(context.Background(), request("evt-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, run)
	repo.AssertExpectations(t)
}

func TestCreateRun_StoreFailure(t *testing.T) {
	repo := &mocks.MockRunRepository{}
	repo.On("ActiveRunByIdempotencyKey", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	manager := runs.NewManager(repo, slog.Default())

	_, _, err := manager.CreateRun(context.Background(), request("evt-1"))
	require.Error(t, err)
}

func TestTransitions(t *testing.T) {
	manager := runs.NewManager(memory.NewPersistence(), slog.Default())
	ctx := context.Background()

	run, _, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)

	// steps cannot be recorded before the run starts
	_, err = manager.UpdateRunStep(ctx, run.ID, "s1", map[string]any{"conditionResult": true})
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	started, err := manager.StartRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)

	_, err = manager.StartRun(ctx, run.ID)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	updated, err := manager.UpdateRunStep(ctx, run.ID, "s1", map[string]any{"conditionResult": true})
	require.NoError(t, err)
	assert.Equal(t, "s1", updated.CurrentStepID)
	require.Len(t, updated.StepResults, 1)
	assert.False(t, updated.StepResults[0].RecordedAt.IsZero())

	paused, err := manager.SetWaitingApproval(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaitingApproval, paused.Status)

	_, err = manager.UpdateRunStep(ctx, run.ID, "s2", nil)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	_, err = manager.CompleteRun(ctx, run.ID)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	resumed, err := manager.ResumeRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, resumed.Status)

	completed, err := manager.CompleteRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	_, err = manager.FailRun(ctx, run.ID, "late")
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	_, err = manager.CancelRun(ctx, run.ID, "late")
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)
}

func TestCancelAndFail(t *testing.T) {
	manager := runs.NewManager(memory.NewPersistence(), slog.Default())
	ctx := context.Background()

	pending, _, err := manager.CreateRun(ctx, request("evt-1"))
	require.NoError(t, err)

	cancelled, err := manager.CancelRun(ctx, pending.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled", cancelled.FailureReason)

	running, _, err := manager.CreateRun(ctx, request("evt-2"))
	require.NoError(t, err)

	_, err = manager.StartRun(ctx, running.ID)
	require.NoError(t, err)

	failed, err := manager.FailRun(ctx, running.ID, "template missing")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	assert.Equal(t, "template missing", failed.FailureReason)

	// append after a concurrent cancel is rejected
	_, err = manager.UpdateRunStep(ctx, pending.ID, "s1", nil)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	_, err = manager.GetRun(ctx, "missing")
	require.True(t, persistence.IsRunNotFound(err))
}
