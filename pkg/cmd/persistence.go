package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/dukex/autoflow/pkg/ruleset"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q, expected one of %v", ErrUnsupportedDatabase, databaseURL, supportedPersistenceProviders)
	}
}

// LoadSeed reads the rule pack at path. An empty path yields an empty seed.
func LoadSeed(path string) (*ruleset.Seed, error) {
	if path == "" {
		return &ruleset.Seed{}, nil
	}

	return ruleset.Load(path)
}

// SeedRules saves every rule of seed into the store.
func SeedRules(ctx context.Context, logger *slog.Logger, store persistence.Persistence, seed *ruleset.Seed) error {
	for _, rule := range seed.Rules {
		err := store.Rules().SaveRule(ctx, rule)
		if err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}

	logger.InfoContext(ctx, "rules seeded", "count", len(seed.Rules))

	return nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return ""
}
