// Package main provides the autoflow scheduler: it publishes a trigger for every scheduled rule
// whose cron expression came due.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/triggers/schedule"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "autoflow-scheduler"

func main() {
	flags := append(cmd.DatabaseFlags(), cmd.LogFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Publish trigger events for due scheduled rules",
		Flags: append(flags,
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "poll-cron",
				Usage:   "Cron expression of the scheduling poll",
				Value:   schedule.DefaultPollCron,
				Sources: cli.EnvVars("POLL_CRON"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName)

			logger.InfoContext(ctx, "Initializing autoflow scheduler")

			seed, err := cmd.LoadSeed(command.String("rules-file"))
			if err != nil {
				return err
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			err = cmd.SeedRules(ctx, logger, store, seed)
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), serviceName, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			scheduler, err := schedule.NewScheduler(store.Rules(), eventBus, command.String("poll-cron"), logger)
			if err != nil {
				return err
			}

			err = scheduler.Start(ctx)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			return scheduler.Stop(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
