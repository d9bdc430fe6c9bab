package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "autoflow-api"
	defaultPort = 9091
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Accept trigger events and manage workflow runs over HTTP",
		EnableShellCompletion: true,
		Flags: append(cmd.EngineFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName)

			shutdown, err := otelhelper.InitTracer(ctx, serviceName)
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing autoflow API")

			stack, err := cmd.NewStack(ctx, logger, cmd.OptionsFromCommand(command, serviceName))
			if err != nil {
				return err
			}

			defer func() {
				_ = stack.Close(ctx)
			}()

			api := NewAPI(logger, stack.Engine, stack.Persistence)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
