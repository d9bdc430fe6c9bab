// Package schedule publishes trigger events for scheduled rules whose cron expression came due.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/matcher"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultPollCron = "* * * * *"

// EventID is the stable event id of one due tick of a rule, so repeated publication is suppressed
// by the run idempotency key.
func EventID(ruleID string, due time.Time) string {
	return ruleID + "@" + due.UTC().Format(time.RFC3339)
}

// Scheduler polls scheduled rules on PollCron and publishes a trigger.received event for each due tick.
type Scheduler struct {
	PollCron string

	rules     persistence.RuleRepository
	publisher eventbus.EventPublisher
	cron      *cron.Cron
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	last time.Time
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSince sets the start of the first polling window. It defaults to the construction time.
func WithSince(since time.Time) Option {
	return func(s *Scheduler) {
		s.last = since
	}
}

func NewScheduler(
	rules persistence.RuleRepository,
	publisher eventbus.EventPublisher,
	pollCron string,
	logger *slog.Logger,
	opts ...Option,
) (*Scheduler, error) {
	if pollCron == "" {
		pollCron = DefaultPollCron
	}

	s := &Scheduler{
		PollCron:  pollCron,
		rules:     rules,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("module", "scheduler", "poll_cron", pollCron),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.last.IsZero() {
		s.last = s.now()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Validate() error {
	if s.rules == nil || s.publisher == nil {
		return errors.New("scheduler needs a rule repository and a publisher")
	}

	if _, err := cron.ParseStandard(s.PollCron); err != nil {
		return fmt.Errorf("invalid poll cron expression: %w", err)
	}

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler")

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.PollCron, func() {
		_, err := s.Tick(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}

	s.cron.Start()

	return nil
}

// Tick publishes the rules due since the previous tick and returns how many were published.
// The window only advances when every publish succeeded; republished ticks keep their event id.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	rules, err := s.rules.ActiveRulesByTrigger(ctx, models.TriggerScheduled)
	if err != nil {
		return 0, fmt.Errorf("failed to load scheduled rules: %w", err)
	}

	var (
		published int
		errs      []error
	)

	for _, rule := range rules {
		due, at, err := matcher.ScheduleDue(rule, s.last, now)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping scheduled rule with invalid conditions", "rule_id", rule.ID, "error", err)

			continue
		}

		if !due {
			continue
		}

		event := events.NewTriggerReceived(rule.OrganizationID, models.TriggerScheduled, EventID(rule.ID, at), models.SystemActor,
			map[string]any{
				"ruleId":      rule.ID,
				"scheduledAt": at.Format(time.RFC3339),
			})

		err = s.publisher.Publish(ctx, rule.OrganizationID, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))

			continue
		}

		s.logger.InfoContext(ctx, "Scheduled rule due", "rule_id", rule.ID, "due", at)

		published++
	}

	if len(errs) > 0 {
		return published, fmt.Errorf("failed to publish scheduled triggers: %w", errors.Join(errs...))
	}

	s.last = now

	return published, nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping scheduler")

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	return nil
}
