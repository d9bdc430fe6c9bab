// Package memory provides an in-process persistence implementation for rules, runs and the audit trail.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with maps guarded by a single mutex.
// The mutex also enforces at most one non-terminal run per idempotency key.
type Persistence struct {
	mu    sync.RWMutex
	rules map[string]*models.AutomationRule
	runs  map[string]*models.WorkflowRun
	audit []*models.AuditLogEntry
}

// NewPersistence creates an empty in-memory store, optionally seeded with rules.
func NewPersistence(rules ...*models.AutomationRule) *Persistence {
	p := &Persistence{
		rules: make(map[string]*models.AutomationRule),
		runs:  make(map[string]*models.WorkflowRun),
	}

	for _, rule := range rules {
		p.rules[rule.ID] = rule
	}

	return p
}

func (p *Persistence) Rules() persistence.RuleRepository   { return p }
func (p *Persistence) Runs() persistence.RunRepository     { return p }
func (p *Persistence) Audit() persistence.AuditRepository { return p }

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs any necessary cleanup. For memory persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) ActiveRules(
	_ context.Context,
	organizationID string,
	triggerType models.TriggerType,
) ([]*models.AutomationRule, error) {
	return p.filterRules(func(rule *models.AutomationRule) bool {
		return rule.IsActive && rule.OrganizationID == organizationID && rule.TriggerType == triggerType
	}), nil
}

func (p *Persistence) ActiveRulesByTrigger(_ context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error) {
	return p.filterRules(func(rule *models.AutomationRule) bool {
		return rule.IsActive && rule.TriggerType == triggerType
	}), nil
}

func (p *Persistence) AllRules(_ context.Context) ([]*models.AutomationRule, error) {
	return p.filterRules(func(*models.AutomationRule) bool { return true }), nil
}

func (p *Persistence) RuleByID(_ context.Context, id string) (*models.AutomationRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rule, exists := p.rules[id]
	if !exists {
		return nil, persistence.NewRuleError("RuleByID", id, persistence.ErrRuleNotFound)
	}

	clone := *rule

	return &clone, nil
}

func (p *Persistence) SaveRule(_ context.Context, rule *models.AutomationRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *rule
	p.rules[rule.ID] = &clone

	return nil
}

func (p *Persistence) filterRules(keep func(*models.AutomationRule) bool) []*models.AutomationRule {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.AutomationRule, 0)

	for _, rule := range p.rules {
		if keep(rule) {
			clone := *rule
			out = append(out, &clone)
		}
	}

	slices.SortFunc(out, func(a, b *models.AutomationRule) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	return out
}

func (p *Persistence) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.runs[run.ID]; exists {
		return persistence.NewRunError("CreateRun", run.ID, persistence.ErrDuplicateIdempotencyKey)
	}

	if run.IdempotencyKey != "" && p.activeByKeyLocked(run.IdempotencyKey) != nil {
		return persistence.NewRunError("CreateRun", run.ID, persistence.ErrDuplicateIdempotencyKey)
	}

	p.runs[run.ID] = run.Clone()

	return nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	run, exists := p.runs[id]
	if !exists {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	return run.Clone(), nil
}

func (p *Persistence) ActiveRunByIdempotencyKey(_ context.Context, key string) (*models.WorkflowRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	run := p.activeByKeyLocked(key)
	if run == nil {
		return nil, persistence.NewRunError("ActiveRunByIdempotencyKey", key, persistence.ErrRunNotFound)
	}

	return run.Clone(), nil
}

func (p *Persistence) activeByKeyLocked(key string) *models.WorkflowRun {
	for _, run := range p.runs {
		if run.IdempotencyKey == key && !run.Status.IsTerminal() {
			return run
		}
	}

	return nil
}

func (p *Persistence) TransitionRun(
	_ context.Context,
	id string,
	from []models.RunStatus,
	update persistence.RunUpdate,
) (*models.WorkflowRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, exists := p.runs[id]
	if !exists {
		return nil, persistence.NewRunError("TransitionRun", id, persistence.ErrRunNotFound)
	}

	if !slices.Contains(from, run.Status) {
		return nil, persistence.NewRunError("TransitionRun", id, persistence.ErrInvalidTransition)
	}

	update.Apply(run)

	return run.Clone(), nil
}

func (p *Persistence) ListRuns(_ context.Context, filter persistence.RunFilter) ([]*models.WorkflowRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowRun, 0)

	for _, run := range p.runs {
		if filter.OrganizationID != "" && run.OrganizationID != filter.OrganizationID {
			continue
		}

		if filter.AutomationRuleID != "" && run.AutomationRuleID != filter.AutomationRuleID {
			continue
		}

		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		out = append(out, run.Clone())
	}

	slices.SortFunc(out, func(a, b *models.WorkflowRun) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (p *Persistence) AppendAudit(_ context.Context, entries ...*models.AuditLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range entries {
		clone := *entry
		p.audit = append(p.audit, &clone)
	}

	return nil
}

func (p *Persistence) AuditByRun(_ context.Context, runID string) ([]*models.AuditLogEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.AuditLogEntry, 0)

	for _, entry := range p.audit {
		if entry.WorkflowRunID == runID {
			clone := *entry
			out = append(out, &clone)
		}
	}

	return out, nil
}
