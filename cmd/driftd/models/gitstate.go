package models

import (
	"time"

	"github.com/google/uuid"
)

// GitState is the repository's intended state for one canonical workflow
// in one environment's deployment target. Produced by repository sync;
// consumed read-only by the drift and reconciliation engines.
type GitState struct {
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	CanonicalID    uuid.UUID `db:"canonical_id" json:"canonical_id"`
	EnvironmentID  uuid.UUID `db:"environment_id" json:"environment_id"`
	GitPath        string    `db:"git_path" json:"git_path"`
	GitCommitSHA   string    `db:"git_commit_sha" json:"git_commit_sha"`
	GitContentHash string    `db:"git_content_hash" json:"git_content_hash"`
	LastRepoSyncAt time.Time `db:"last_repo_sync_at" json:"last_repo_sync_at"`
}
