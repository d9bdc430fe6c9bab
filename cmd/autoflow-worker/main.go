// Package main provides the autoflow worker: it consumes trigger, approval and cancel events
// from the bus and drives the runs they concern.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/autoflow/pkg/channels/kafka"
	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/otelhelper"
	triggerskafka "github.com/dukex/autoflow/pkg/triggers/kafka"
	"github.com/dukex/autoflow/pkg/triggers/queue"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "autoflow-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute automation runs",
		Flags: append(cmd.EngineFlags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list to pop trigger requests from (requires --redis-url)",
				Sources: cli.EnvVars("TRIGGER_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "kafka-trigger-topic",
				Usage:   "Kafka topic to consume trigger requests from (brokers from KAFKA_BROKERS)",
				Sources: cli.EnvVars("KAFKA_TRIGGER_TOPIC"),
			},
		),
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate the stored and seeded automation rules, then exit",
				Flags: append(cmd.DatabaseFlags(), cmd.LogFlags()...),
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"), command.String("log-format"))

					logger := log.WithModule(serviceName)

					seed, err := cmd.LoadSeed(command.String("rules-file"))
					if err != nil {
						return err
					}

					store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
					if err != nil {
						return err
					}

					defer func() {
						_ = store.Close(ctx)
					}()

					err = cmd.SeedRules(ctx, logger, store, seed)
					if err != nil {
						return err
					}

					_, err = ValidateRules(ctx, store.Rules(), logger)

					return err
				},
			},
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName).With("workerId", workerID)

	shutdown, err := otelhelper.InitTracer(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Initializing autoflow worker")

	stack, err := cmd.NewStack(ctx, logger, cmd.OptionsFromCommand(command, serviceName))
	if err != nil {
		return err
	}

	defer func() {
		_ = stack.Close(ctx)
	}()

	var sources []Starter

	if name := command.String("queue"); name != "" {
		if stack.Redis == nil {
			return fmt.Errorf("--queue %q requires --redis-url", name)
		}

		sources = append(sources, queue.NewConsumer(stack.Redis, name, stack.Engine, logger))
	}

	if topic := command.String("kafka-trigger-topic"); topic != "" {
		brokers, err := kafka.BrokersFromEnv()
		if err != nil {
			return err
		}

		consumer, err := triggerskafka.NewConsumer(brokers, topic, serviceName, stack.Engine, logger)
		if err != nil {
			return err
		}

		sources = append(sources, consumer)
	}

	worker := NewWorkerManager(workerID, stack.Engine, stack.EventBus, logger, sources...)

	return worker.Start(ctx)
}
