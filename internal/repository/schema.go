package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the persisted state layout: three logical tables, each indexed
// by owning entity/workflow id and creation time for range scans.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id UUID PRIMARY KEY,
	project_id TEXT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	version INT NOT NULL,
	status TEXT NOT NULL,
	graph JSONB NOT NULL,
	is_template BOOLEAN NOT NULL DEFAULT FALSE,
	parent_definition_id UUID,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_definitions_project ON workflow_definitions (project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_definitions_status ON workflow_definitions (status);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL,
	batch_id TEXT,
	name TEXT NOT NULL DEFAULT '',
	snapshot JSONB NOT NULL,
	parent_instance_id UUID,
	actor_kind TEXT NOT NULL DEFAULT 'root',
	status TEXT NOT NULL,
	checkpointed_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	last_error TEXT,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_instances_workflow ON workflow_instances (workflow_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_instances_parent ON workflow_instances (parent_instance_id, started_at);
CREATE INDEX IF NOT EXISTS idx_instances_status ON workflow_instances (status);

CREATE TABLE IF NOT EXISTS state_transitions (
	id UUID PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	workflow_id UUID NOT NULL,
	instance_id UUID,
	event_type TEXT NOT NULL,
	event_payload JSONB,
	event_origin TEXT NOT NULL DEFAULT '',
	from_state JSONB NOT NULL,
	to_state JSONB NOT NULL,
	kind TEXT NOT NULL,
	guard_results JSONB,
	actions JSONB,
	triggered_by TEXT NOT NULL DEFAULT 'system',
	state_changed BOOLEAN NOT NULL,
	duration_ms BIGINT,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transitions_entity ON state_transitions (entity_type, entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transitions_workflow ON state_transitions (workflow_id, created_at DESC);
`

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
