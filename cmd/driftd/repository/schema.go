package repository

import (
	"context"
	"fmt"

	"github.com/flowops/driftd/common/db"
)

// InitSchema creates the service's tables when they do not exist. Run at
// startup via the bootstrap db init hook.
func InitSchema(ctx context.Context, database *db.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS canonical_workflow (
			canonical_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ,
			UNIQUE (tenant_id, display_name)
		)`,

		`CREATE TABLE IF NOT EXISTS environment (
			environment_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			class TEXT NOT NULL DEFAULT 'dev',
			repo_configured BOOLEAN NOT NULL DEFAULT FALSE,
			drift_detection_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			drift_status TEXT NOT NULL DEFAULT 'unknown',
			last_drift_check_at TIMESTAMPTZ,
			last_drift_detected_at TIMESTAMPTZ,
			active_incident_id UUID,
			UNIQUE (tenant_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS environment_mapping (
			mapping_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			environment_id UUID NOT NULL,
			canonical_id UUID,
			runtime_workflow_id TEXT,
			workflow_name TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			cached_body BYTEA,
			mapping_status TEXT NOT NULL,
			last_sync_at TIMESTAMPTZ NOT NULL,
			linked_at TIMESTAMPTZ,
			linked_by TEXT,
			UNIQUE (tenant_id, environment_id, runtime_workflow_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_canonical
			ON environment_mapping (tenant_id, environment_id, canonical_id)
			WHERE mapping_status = 'linked'`,

		`CREATE TABLE IF NOT EXISTS git_state (
			tenant_id TEXT NOT NULL,
			canonical_id UUID NOT NULL,
			environment_id UUID NOT NULL,
			git_path TEXT NOT NULL,
			git_commit_sha TEXT NOT NULL,
			git_content_hash TEXT NOT NULL,
			last_repo_sync_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, canonical_id, environment_id)
		)`,

		`CREATE TABLE IF NOT EXISTS diff_state (
			tenant_id TEXT NOT NULL,
			canonical_id UUID NOT NULL,
			source_env_id UUID NOT NULL,
			target_env_id UUID NOT NULL,
			diff_status TEXT NOT NULL,
			source_git_hash TEXT NOT NULL DEFAULT '',
			target_git_hash TEXT NOT NULL DEFAULT '',
			source_env_hash TEXT NOT NULL DEFAULT '',
			target_env_hash TEXT NOT NULL DEFAULT '',
			conflict_metadata JSONB,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, canonical_id, source_env_id, target_env_id)
		)`,

		`CREATE TABLE IF NOT EXISTS drift_incident (
			incident_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			environment_id UUID NOT NULL,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			detected_by TEXT,
			acknowledged_at TIMESTAMPTZ,
			acknowledged_by TEXT,
			stabilized_at TIMESTAMPTZ,
			stabilized_by TEXT,
			reconciled_at TIMESTAMPTZ,
			reconciled_by TEXT,
			closed_at TIMESTAMPTZ,
			closed_by TEXT,
			affected_workflows JSONB NOT NULL DEFAULT '[]'::jsonb,
			drift_snapshot JSONB,
			expires_at TIMESTAMPTZ,
			ttl_warning_sent_at TIMESTAMPTZ,
			resolution_type TEXT,
			resolution_reason TEXT,
			payload_purged_at TIMESTAMPTZ,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_incident_active
			ON drift_incident (tenant_id, environment_id)
			WHERE status != 'closed'`,
		`CREATE INDEX IF NOT EXISTS idx_incident_expiry
			ON drift_incident (expires_at)
			WHERE status != 'closed' AND expires_at IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS sync_checkpoint (
			tenant_id TEXT NOT NULL,
			environment_id UUID NOT NULL,
			last_index INT NOT NULL,
			total INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, environment_id)
		)`,

		`CREATE TABLE IF NOT EXISTS drift_check (
			check_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			environment_id UUID NOT NULL,
			status TEXT NOT NULL,
			summary JSONB,
			checked_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drift_check_env
			ON drift_check (tenant_id, environment_id, checked_at DESC)`,

		`CREATE TABLE IF NOT EXISTS retention_policy (
			tenant_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL DEFAULT 'free',
			drift_check_days INT NOT NULL DEFAULT 0,
			incident_payload_days INT NOT NULL DEFAULT 0,
			reconciliation_days INT NOT NULL DEFAULT 0,
			approval_days INT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS auto_incident_policy (
			tenant_id TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			production_only BOOLEAN NOT NULL DEFAULT TRUE,
			filter_expression TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_artifact (
			artifact_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS approval (
			approval_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			requested_by TEXT,
			resolved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, statement := range statements {
		if _, err := database.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}
