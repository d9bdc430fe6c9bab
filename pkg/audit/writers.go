package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

// MultiWriter fans entries out to every writer and joins their errors.
type MultiWriter []Writer

func (m MultiWriter) AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) error {
	var errs []error

	for _, writer := range m {
		err := writer.AppendAudit(ctx, entries...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

const (
	DefaultStreamPrefix = "autoflow:audit:"
	DefaultStreamMaxLen = 100000
)

// RedisStreamWriter appends each entry to a per-organization Redis stream.
type RedisStreamWriter struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

func NewRedisStreamWriter(client redis.UniversalClient, prefix string, maxLen int64) *RedisStreamWriter {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}

	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}

	return &RedisStreamWriter{client: client, prefix: prefix, maxLen: maxLen}
}

// Stream returns the stream key holding an organization's entries.
func (w *RedisStreamWriter) Stream(organizationID string) string {
	return w.prefix + organizationID
}

func (w *RedisStreamWriter) AppendAudit(ctx context.Context, entries ...*models.AuditLogEntry) error {
	pipe := w.client.Pipeline()

	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry %s: %w", entry.ID, err)
		}

		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: w.Stream(entry.OrganizationID),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]any{
				"id":      entry.ID,
				"run_id":  entry.WorkflowRunID,
				"outcome": string(entry.Outcome),
				"entry":   string(payload),
			},
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append audit entries to redis: %w", err)
	}

	return nil
}
