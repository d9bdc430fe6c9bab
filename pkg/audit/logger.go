// Package audit records action executions without ever blocking or failing a run.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

const (
	DefaultQueueSize = 1024
	writeTimeout     = 10 * time.Second
)

// Writer persists audit entries.
type Writer interface {
	AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) error
}

type request struct {
	entries []*models.AuditLogEntry
	flushed chan struct{}
}

// Logger queues entries on a buffered channel drained by a single goroutine.
// A full queue drops the entry with a warning; write failures are logged and swallowed.
type Logger struct {
	writer Writer
	logger *slog.Logger
	queue  chan request
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewLogger(writer Writer, queueSize int, logger *slog.Logger) *Logger {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	l := &Logger{
		writer: writer,
		logger: logger.With("module", "audit"),
		queue:  make(chan request, queueSize),
		done:   make(chan struct{}),
	}

	go l.run()

	return l
}

func (l *Logger) Log(ctx context.Context, entry *models.AuditLogEntry) {
	l.LogMany(ctx, []*models.AuditLogEntry{entry})
}

func (l *Logger) LogMany(ctx context.Context, entries []*models.AuditLogEntry) {
	if len(entries) == 0 {
		return
	}

	for _, entry := range entries {
		stamp(entry)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.WarnContext(ctx, "audit logger closed, dropping entries", "count", len(entries))

		return
	}

	select {
	case l.queue <- request{entries: entries}:
	default:
		l.logger.WarnContext(ctx, "audit queue full, dropping entries",
			"count", len(entries),
			"run_id", entries[0].WorkflowRunID,
		)
	}
}

// Flush waits until every entry queued before the call has been handed to the writer.
func (l *Logger) Flush(ctx context.Context) error {
	marker := request{flushed: make(chan struct{})}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()

		return nil
	}

	select {
	case l.queue <- marker:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()

		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer goroutine.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)

	for req := range l.queue {
		if req.flushed != nil {
			close(req.flushed)

			continue
		}

		l.write(req.entries)
	}
}

func (l *Logger) write(entries []*models.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "audit writer panicked",
				"panic", fmt.Sprint(r),
				"count", len(entries),
				"run_id", entries[0].WorkflowRunID,
			)
		}
	}()

	err := l.writer.AppendAudit(ctx, entries...)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to write audit entries",
			"error", err,
			"count", len(entries),
			"run_id", entries[0].WorkflowRunID,
		)
	}
}

func stamp(entry *models.AuditLogEntry) {
	if entry.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			entry.ID = id.String()
		}
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
}
