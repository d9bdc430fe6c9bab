package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/audit"
	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
	fail    bool
	block   chan struct{}
}

func (w *recordingWriter) AppendAudit(_ context.Context, entries ...*models.AuditLogEntry) error {
	if w.block != nil {
		<-w.block
	}

	if w.fail {
		return errors.New("audit store unavailable")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entries...)

	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.entries)
}

func entry(runID string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		WorkflowRunID:  runID,
		OrganizationID: "org-1",
		StepID:         "s1",
		ActionType:     models.ActionSendEmail,
		Outcome:        models.AuditOutcomeSuccess,
		ActorType:      models.ActorSystem,
	}
}

func TestLogger_WritesInOrder(t *testing.T) {
	writer := &recordingWriter{}
	logger := audit.NewLogger(writer, 16, slog.Default())
	ctx := context.Background()

	logger.Log(ctx, entry("run-1"))
	logger.LogMany(ctx, []*models.AuditLogEntry{entry("run-2"), entry("run-3")})
	logger.LogMany(ctx, nil)

	require.NoError(t, logger.Flush(ctx))
	require.Equal(t, 3, writer.count())

	assert.Equal(t, "run-1", writer.entries[0].WorkflowRunID)
	assert.Equal(t, "run-3", writer.entries[2].WorkflowRunID)
	assert.NotEmpty(t, writer.entries[0].ID)
	assert.False(t, writer.entries[0].Timestamp.IsZero())

	require.NoError(t, logger.Close(ctx))
}

func TestLogger_WriteFailureIsSwallowed(t *testing.T) {
	logger := audit.NewLogger(&recordingWriter{fail: true}, 4, slog.Default())
	ctx := context.Background()

	logger.Log(ctx, entry("run-1"))

	require.NoError(t, logger.Flush(ctx))
	require.NoError(t, logger.Close(ctx))
}

type panickingWriter struct {
	calls int
}

func (w *panickingWriter) AppendAudit(context.Context, ...*models.AuditLogEntry) error {
	w.calls++
	if w.calls == 1 {
		panic("redis client is nil")
	}

	return nil
}

func TestLogger_WriterPanicIsRecovered(t *testing.T) {
	writer := &panickingWriter{}
	logger := audit.NewLogger(writer, 4, slog.Default())
	ctx := context.Background()

	logger.Log(ctx, entry("run-1"))
	require.NoError(t, logger.Flush(ctx))

	// the drain goroutine survives and keeps writing
	logger.Log(ctx, entry("run-2"))
	require.NoError(t, logger.Flush(ctx))
	require.NoError(t, logger.Close(ctx))

	assert.Equal(t, 2, writer.calls)
}

func TestLogger_FullQueueDropsWithoutBlocking(t *testing.T) {
	writer := &recordingWriter{block: make(chan struct{})}
	logger := audit.NewLogger(writer, 1, slog.Default())
	ctx := context.Background()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for range 10 {
			logger.Log(ctx, entry("run-1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full queue")
	}

	close(writer.block)

	require.NoError(t, logger.Close(ctx))
	assert.Less(t, writer.count(), 10)
	assert.Positive(t, writer.count())
}

func TestLogger_CloseDrains(t *testing.T) {
	store := memory.NewPersistence()
	logger := audit.NewLogger(store.Audit(), 64, slog.Default())
	ctx := context.Background()

	for range 20 {
		logger.Log(ctx, entry("run-9"))
	}

	require.NoError(t, logger.Close(ctx))

	// logging after close is a no-op
	logger.Log(ctx, entry("run-9"))
	require.NoError(t, logger.Flush(ctx))

	entries, err := store.AuditByRun(ctx, "run-9")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestMultiWriter(t *testing.T) {
	first := &recordingWriter{}
	second := &recordingWriter{fail: true}

	err := audit.MultiWriter{first, second}.AppendAudit(context.Background(), entry("run-1"))
	require.Error(t, err)
	assert.Equal(t, 1, first.count())
}

func TestMultiWriter_FansOutToRepository(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.MockAuditRepository{}
	first := entry("run-1")

	repo.On("AppendAudit", ctx, []*models.AuditLogEntry{first}).Return(nil).Once()

	recorder := &recordingWriter{}

	err := audit.MultiWriter{repo, recorder}.AppendAudit(ctx, first)
	require.NoError(t, err)

	repo.AssertExpectations(t)
	assert.Equal(t, 1, recorder.count())
}
