// Package kafka consumes trigger requests published to a Kafka topic by upstream services.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dukex/autoflow/pkg/engine"
)

const (
	DefaultTopic         = "autoflow.triggers"
	DefaultConsumerGroup = "autoflow-triggers"

	kafkaSessionTimeout    = 10 * time.Second
	kafkaHeartbeatInterval = 3 * time.Second
	kafkaRetryInterval     = 5 * time.Second
)

var ErrNoBrokers = errors.New("kafka trigger brokers are required")

// Dispatcher receives each decoded trigger.
type Dispatcher interface {
	DispatchTrigger(ctx context.Context, req engine.TriggerRequest) (engine.DispatchResult, error)
}

// Consumer reads JSON trigger requests from Topic. A message is committed once the engine accepted
// it or rejected it as invalid; any other error leaves it uncommitted so the group redelivers it.
type Consumer struct {
	Topic         string
	ConsumerGroup string
	Brokers       []string

	group      sarama.ConsumerGroup
	dispatcher Dispatcher
	logger     *slog.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewConsumer(brokers []string, topic, consumerGroup string, dispatcher Dispatcher, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if topic == "" {
		topic = DefaultTopic
	}

	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = kafkaSessionTimeout
	config.Consumer.Group.Heartbeat.Interval = kafkaHeartbeatInterval
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, consumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	return &Consumer{
		Topic:         topic,
		ConsumerGroup: consumerGroup,
		Brokers:       brokers,
		group:         group,
		dispatcher:    dispatcher,
		logger: logger.With(
			"module", "kafka_trigger_consumer",
			"topic", topic,
			"consumer_group", consumerGroup,
		),
	}, nil
}

func (c *Consumer) Start(ctx context.Context) {
	c.logger.InfoContext(ctx, "Starting Kafka trigger consumer")

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)

	go c.consume(ctx)
	go c.monitorErrors(ctx)
}

func (c *Consumer) Stop(ctx context.Context) {
	c.logger.InfoContext(ctx, "Stopping Kafka trigger consumer")

	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()

	err := c.group.Close()
	if err != nil {
		c.logger.ErrorContext(ctx, "Error closing Kafka consumer", "error", err)
	}
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	handler := &consumerGroupHandler{consumer: c}

	for ctx.Err() == nil {
		err := c.group.Consume(ctx, []string{c.Topic}, handler)
		if err == nil || ctx.Err() != nil {
			continue
		}

		c.logger.ErrorContext(ctx, "Kafka consumer error", "error", err)

		select {
		case <-ctx.Done():
		case <-time.After(kafkaRetryInterval):
		}
	}
}

func (c *Consumer) monitorErrors(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}

			c.logger.ErrorContext(ctx, "Kafka consumer group error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// Handle dispatches one message. The message key stands in for a missing organizationId.
func (c *Consumer) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	logger := c.logger.With("partition", message.Partition, "offset", message.Offset)

	var req engine.TriggerRequest

	err := json.Unmarshal(message.Value, &req)
	if err != nil {
		logger.WarnContext(ctx, "Skipping undecodable trigger message", "error", err)

		return nil
	}

	if req.OrganizationID == "" && len(message.Key) > 0 {
		req.OrganizationID = string(message.Key)
	}

	result, err := c.dispatcher.DispatchTrigger(ctx, req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTrigger) {
			logger.WarnContext(ctx, "Skipping invalid trigger message", "error", err)

			return nil
		}

		return err
	}

	logger.InfoContext(ctx, "Trigger dispatched",
		"event_id", req.EventID,
		"matched", result.Matched,
		"created", len(result.Created),
	)

	return nil
}

type consumerGroupHandler struct {
	consumer *Consumer
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.InfoContext(session.Context(), "Kafka consumer group session started")

	return nil
}

func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.InfoContext(session.Context(), "Kafka consumer group session ended")

	return nil
}

// ConsumeClaim handles messages in order. An error ends the session before the failed message is
// marked, so it is consumed again from the last committed offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()

	for message := range claim.Messages() {
		err := h.consumer.Handle(ctx, message)
		if err != nil {
			h.consumer.logger.ErrorContext(ctx, "Failed to dispatch trigger message",
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err,
			)

			return err
		}

		session.MarkMessage(message, "")
	}

	return nil
}
