// Package queue consumes trigger requests pushed as JSON onto a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/engine"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultQueue = "autoflow:triggers"
	popTimeout   = time.Second
	retryBackoff = time.Second
)

// Dispatcher receives each decoded trigger.
type Dispatcher interface {
	DispatchTrigger(ctx context.Context, req engine.TriggerRequest) (engine.DispatchResult, error)
}

// Consumer pops trigger requests off Queue and dispatches them one at a time. Messages that do not
// decode, or that the engine rejects as invalid, are moved to the dead-letter list.
type Consumer struct {
	Queue      string
	DeadLetter string

	client     redis.UniversalClient
	dispatcher Dispatcher
	logger     *slog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewConsumer(client redis.UniversalClient, queue string, dispatcher Dispatcher, logger *slog.Logger) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Consumer{
		Queue:      queue,
		DeadLetter: queue + ":dead",
		client:     client,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_consumer",
			"queue", queue,
		),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.logger.InfoContext(ctx, "Starting queue consumer")

	c.wg.Add(1)

	go c.consume(ctx)
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			_, err := c.ProcessNext(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(retryBackoff)
			}
		}
	}
}

// ProcessNext waits briefly for one message and handles it. It reports whether a message was taken.
func (c *Consumer) ProcessNext(ctx context.Context) (bool, error) {
	result, err := c.client.BLPop(ctx, popTimeout, c.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return false, nil
		}

		return false, fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return false, nil
	}

	message := result[1]

	var req engine.TriggerRequest
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		return true, c.deadLetter(ctx, message, err)
	}

	dispatched, err := c.dispatcher.DispatchTrigger(ctx, req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTrigger) {
			return true, c.deadLetter(ctx, message, err)
		}

		// requeue at the head; the idempotency key makes a partial dispatch safe to repeat
		pushErr := c.client.LPush(ctx, c.Queue, message).Err()

		return true, errors.Join(fmt.Errorf("failed to dispatch trigger %s: %w", req.EventID, err), pushErr)
	}

	c.logger.InfoContext(ctx, "Trigger dispatched from queue",
		"event_id", req.EventID,
		"matched", dispatched.Matched,
		"created", len(dispatched.Created),
	)

	return true, nil
}

func (c *Consumer) deadLetter(ctx context.Context, message string, cause error) error {
	c.logger.WarnContext(ctx, "Moving message to dead-letter list", "dead_letter", c.DeadLetter, "error", cause)

	err := c.client.RPush(ctx, c.DeadLetter, message).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}

	return nil
}

func (c *Consumer) Stop(ctx context.Context) {
	c.logger.InfoContext(ctx, "Stopping queue consumer")

	close(c.stopCh)
	c.wg.Wait()
}
