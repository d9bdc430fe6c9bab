package cmd

import (
	"github.com/dukex/autoflow/pkg/engine"
	cli "github.com/urfave/cli/v3"
)

// DatabaseFlags select the store and the rule pack seeded into it.
func DatabaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or memory://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "rules-file",
			Usage:   "YAML rule pack seeded into the store on start",
			Sources: cli.EnvVars("RULES_FILE"),
		},
	}
}

// LogFlags configure the process logger.
func LogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// EngineFlags are the flags NewStack reads through OptionsFromCommand.
func EngineFlags() []cli.Flag {
	flags := append(DatabaseFlags(), LogFlags()...)

	return append(flags,
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL; when set, audit entries are also appended to per-organization streams",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "collaborator-url",
			Usage:   "Base URL of the HTTP collaborators; actions are only logged when empty",
			Sources: cli.EnvVars("COLLABORATOR_URL"),
		},
		&cli.StringSliceFlag{
			Name:    "collaborator-header",
			Usage:   "Header sent to the collaborators, as \"Name: value\"",
			Sources: cli.EnvVars("COLLABORATOR_HEADERS"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Steps one run may execute per invocation",
			Value:   engine.DefaultMaxSteps,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
	)
}

func OptionsFromCommand(command *cli.Command, serviceName string) Options {
	return Options{
		ServiceName:        serviceName,
		DatabaseURL:        command.String("database-url"),
		RulesFile:          command.String("rules-file"),
		EventBus:           command.String("event-bus"),
		RedisURL:           command.String("redis-url"),
		CollaboratorURL:    command.String("collaborator-url"),
		CollaboratorHeader: command.StringSlice("collaborator-header"),
		MaxSteps:           command.Int("max-steps"),
	}
}
