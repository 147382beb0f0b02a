package postgresql

// migrations returns the ordered schema migrations for the automation engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS events (
				id UUID PRIMARY KEY,
				type VARCHAR(100) NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				claimed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				next_retry_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_events_status ON events (status, created_at);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);

			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				is_template BOOLEAN NOT NULL DEFAULT FALSE,
				max_executions_per_day INTEGER NOT NULL DEFAULT 0,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS triggers (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				trigger_type VARCHAR(100) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				conditions JSONB NOT NULL DEFAULT '[]',
				trigger_order INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON triggers (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_triggers_type ON triggers (trigger_type);

			CREATE TABLE IF NOT EXISTS actions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				action_type VARCHAR(100) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				delay_minutes INTEGER NOT NULL DEFAULT 0,
				action_order INTEGER NOT NULL DEFAULT 0,
				continue_on_error BOOLEAN NOT NULL DEFAULT FALSE
			);

			CREATE INDEX IF NOT EXISTS idx_actions_workflow ON actions (workflow_id);

			CREATE TABLE IF NOT EXISTS execution_logs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				execution_id UUID NOT NULL,
				event_id UUID,
				action_id UUID,
				action_type VARCHAR(100) NOT NULL,
				status VARCHAR(20) NOT NULL,
				input_data JSONB,
				output_data JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_logs_execution ON execution_logs (execution_id);
			CREATE INDEX IF NOT EXISTS idx_logs_workflow_started ON execution_logs (workflow_id, started_at);
		`,
	}
}
