package models

import (
	"time"

	"github.com/google/uuid"
)

// DiffStatus is the derived comparison state of one canonical workflow
// between an ordered (source, target) environment pair.
type DiffStatus string

const (
	DiffUnchanged    DiffStatus = "unchanged"
	DiffAdded        DiffStatus = "added"
	DiffTargetOnly   DiffStatus = "target_only"
	DiffModified     DiffStatus = "modified"
	DiffTargetHotfix DiffStatus = "target_hotfix"
	DiffConflict     DiffStatus = "conflict"
)

// ConflictMetadata captures why a pair landed in conflict. Present only
// when diff_status is conflict.
type ConflictMetadata struct {
	ConflictType    string     `json:"conflict_type"`
	SourceGitHash   string     `json:"source_git_hash"`
	TargetGitHash   string     `json:"target_git_hash"`
	SourceEnvHash   string     `json:"source_env_hash,omitempty"`
	TargetEnvHash   string     `json:"target_env_hash,omitempty"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`
	TargetUpdatedAt *time.Time `json:"target_updated_at,omitempty"`
}

// ConflictTypeDivergent is the only conflict type produced today: both
// sides diverged independently from the common repository ancestor.
const ConflictTypeDivergent = "divergent_changes"

// DiffState is purely derived cache data: safe to delete and recompute.
// Empty hash strings mean "absent" on that side.
type DiffState struct {
	TenantID      string     `db:"tenant_id" json:"tenant_id"`
	CanonicalID   uuid.UUID  `db:"canonical_id" json:"canonical_id"`
	SourceEnvID   uuid.UUID  `db:"source_env_id" json:"source_env_id"`
	TargetEnvID   uuid.UUID  `db:"target_env_id" json:"target_env_id"`
	DiffStatus    DiffStatus `db:"diff_status" json:"diff_status"`
	SourceGitHash string     `db:"source_git_hash" json:"source_git_hash,omitempty"`
	TargetGitHash string     `db:"target_git_hash" json:"target_git_hash,omitempty"`
	SourceEnvHash string     `db:"source_env_hash" json:"source_env_hash,omitempty"`
	TargetEnvHash string     `db:"target_env_hash" json:"target_env_hash,omitempty"`

	Conflict *ConflictMetadata `db:"conflict_metadata" json:"conflict_metadata,omitempty"`

	ComputedAt time.Time `db:"computed_at" json:"computed_at"`
}

// SameInputs reports whether the four stored input hashes match the given
// tuple. Used for incremental recompute: when nothing changed, the stored
// status is still valid.
func (d *DiffState) SameInputs(sourceGit, targetGit, sourceEnv, targetEnv string) bool {
	return d.SourceGitHash == sourceGit &&
		d.TargetGitHash == targetGit &&
		d.SourceEnvHash == sourceEnv &&
		d.TargetEnvHash == targetEnv
}
