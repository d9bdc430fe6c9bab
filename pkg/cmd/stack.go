// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/audit"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// Options configure the components shared by every binary.
type Options struct {
	ServiceName        string
	DatabaseURL        string
	RulesFile          string
	EventBus           string
	RedisURL           string
	CollaboratorURL    string
	CollaboratorHeader []string
	MaxSteps           int
}

// Stack is the wired engine with the resources it owns.
type Stack struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Audit       *audit.Logger
	Engine      *engine.Engine
	Redis       *redis.Client

	logger *slog.Logger
}

// NewStack opens the store, the bus and the optional redis client, then assembles the engine.
// On error everything opened so far is closed.
func NewStack(ctx context.Context, logger *slog.Logger, opts Options) (_ *Stack, err error) {
	stack := &Stack{logger: logger}

	defer func() {
		if err != nil {
			err = errors.Join(err, stack.Close(ctx))
		}
	}()

	seed, err := LoadSeed(opts.RulesFile)
	if err != nil {
		return nil, err
	}

	stack.Persistence, err = NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	err = SeedRules(ctx, logger, stack.Persistence, seed)
	if err != nil {
		return nil, err
	}

	stack.EventBus, err = NewEventBus(opts.EventBus, opts.ServiceName, logger)
	if err != nil {
		return nil, err
	}

	writers := audit.MultiWriter{stack.Persistence.Audit()}

	if opts.RedisURL != "" {
		stack.Redis, err = NewRedisClient(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}

		writers = append(writers, audit.NewRedisStreamWriter(stack.Redis, "", 0))
	}

	stack.Audit = audit.NewLogger(writers, audit.DefaultQueueSize, logger)

	collab, err := NewCollaborators(logger, opts.CollaboratorURL, opts.CollaboratorHeader, seed)
	if err != nil {
		return nil, err
	}

	dispatcher := actions.NewDispatcher(NewPermissionChecker(seed), collab, logger)

	stack.Engine = engine.New(stack.Persistence, dispatcher, stack.Audit, logger,
		engine.WithEventPublisher(stack.EventBus),
		engine.WithMaxSteps(opts.MaxSteps),
	)

	return stack, nil
}

// NewRedisClient connects to redisURL and pings it.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to redis: %w", err), client.Close())
	}

	return client, nil
}

// Close drains the audit queue before closing the store it writes to.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	if s.Audit != nil {
		errs = append(errs, s.Audit.Close(ctx))
	}

	if s.EventBus != nil {
		errs = append(errs, s.EventBus.Close())
	}

	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}

	if s.Persistence != nil {
		errs = append(errs, s.Persistence.Close(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to close resources", "error", err)
	}

	return err
}
