package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Tenant automation rules, read-only to the engine
			CREATE TABLE automation_rules (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				trigger_type VARCHAR(64) NOT NULL,
				conditions JSONB,
				definition JSONB NOT NULL DEFAULT '{"steps": []}',
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_automation_rules_lookup ON automation_rules(organization_id, trigger_type) WHERE is_active;
			CREATE INDEX idx_automation_rules_trigger_type ON automation_rules(trigger_type) WHERE is_active;
		`,
		2: `
			-- Workflow runs, one per rule and triggering event
			CREATE TABLE workflow_runs (
				id VARCHAR(255) PRIMARY KEY,
				automation_rule_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'WAITING_APPROVAL', 'COMPLETED', 'FAILED', 'CANCELLED')),
				trigger_context JSONB NOT NULL,
				idempotency_key VARCHAR(1024) NOT NULL,
				current_step_id VARCHAR(255),
				step_results JSONB NOT NULL DEFAULT '[]',
				triggered_by VARCHAR(255),
				failure_reason TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			-- At most one non-terminal run per idempotency key
			CREATE UNIQUE INDEX uq_workflow_runs_active_idempotency_key
				ON workflow_runs(idempotency_key)
				WHERE status IN ('PENDING', 'RUNNING', 'WAITING_APPROVAL');

			CREATE INDEX idx_workflow_runs_organization ON workflow_runs(organization_id, created_at DESC);
			CREATE INDEX idx_workflow_runs_rule ON workflow_runs(automation_rule_id);
			CREATE INDEX idx_workflow_runs_status ON workflow_runs(status);
		`,
		3: `
			-- Append-only action audit trail
			CREATE TABLE workflow_audit_log (
				id VARCHAR(255) PRIMARY KEY,
				workflow_run_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				action_type VARCHAR(64) NOT NULL,
				target_type VARCHAR(64),
				target_id VARCHAR(255),
				outcome VARCHAR(16) NOT NULL CHECK (outcome IN ('success', 'failed', 'skipped')),
				detail JSONB,
				actor_type VARCHAR(16) NOT NULL CHECK (actor_type IN ('system', 'user')),
				actor_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_audit_log_run ON workflow_audit_log(workflow_run_id, created_at);
			CREATE INDEX idx_workflow_audit_log_organization ON workflow_audit_log(organization_id, created_at DESC);
		`,
	}
}
