package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/models"
)

// Store interfaces consumed by the engines. The repository package
// implements them over postgres; tests implement them in memory. No
// engine logic depends on a specific query language.
//
// Convention: lookups return (nil, nil) when the row does not exist.

// CanonicalStore reads and writes canonical workflow identities
type CanonicalStore interface {
	Create(ctx context.Context, workflow *models.CanonicalWorkflow) error
	GetByName(ctx context.Context, tenantID, name string) (*models.CanonicalWorkflow, error)
	ListActive(ctx context.Context, tenantID string) ([]*models.CanonicalWorkflow, error)
}

// EnvironmentStore reads and mutates environment records
type EnvironmentStore interface {
	Get(ctx context.Context, environmentID uuid.UUID) (*models.Environment, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Environment, error)
	ListDriftEligible(ctx context.Context) ([]*models.Environment, error)
	ListTenants(ctx context.Context) ([]string, error)
	UpdateDriftStatus(ctx context.Context, environmentID uuid.UUID, status models.DriftStatus, checkedAt time.Time, driftFound bool) error
	SetActiveIncident(ctx context.Context, environmentID, incidentID uuid.UUID) error
	ClearActiveIncident(ctx context.Context, environmentID uuid.UUID) error
}

// MappingStore reads and mutates environment mappings. Rows are only ever
// upserted or transitioned to deleted, never removed.
type MappingStore interface {
	GetByID(ctx context.Context, mappingID uuid.UUID) (*models.EnvironmentMapping, error)
	GetByRuntimeID(ctx context.Context, tenantID string, environmentID uuid.UUID, runtimeWorkflowID string) (*models.EnvironmentMapping, error)
	GetLinkedByCanonical(ctx context.Context, tenantID string, environmentID, canonicalID uuid.UUID) (*models.EnvironmentMapping, error)
	ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.EnvironmentMapping, error)
	Upsert(ctx context.Context, mapping *models.EnvironmentMapping) error
	MarkDeleted(ctx context.Context, mappingID uuid.UUID) error
}

// GitStateStore reads the repository-side state written by repository sync
type GitStateStore interface {
	Get(ctx context.Context, tenantID string, canonicalID, environmentID uuid.UUID) (*models.GitState, error)
	ListByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) ([]*models.GitState, error)
}

// DiffStateStore reads and writes the derived diff cache
type DiffStateStore interface {
	Get(ctx context.Context, tenantID string, canonicalID, sourceEnvID, targetEnvID uuid.UUID) (*models.DiffState, error)
	Upsert(ctx context.Context, state *models.DiffState) error
	DeleteStale(ctx context.Context, tenantID string, sourceEnvID, targetEnvID uuid.UUID, liveCanonicalIDs []uuid.UUID) (int, error)
}

// IncidentStore reads and writes drift incidents
type IncidentStore interface {
	Create(ctx context.Context, incident *models.DriftIncident) error
	Get(ctx context.Context, incidentID uuid.UUID) (*models.DriftIncident, error)
	Update(ctx context.Context, incident *models.DriftIncident) error
	GetActiveByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.DriftIncident, error)
	ListRecentByEnvironment(ctx context.Context, tenantID string, environmentID uuid.UUID, since time.Time) ([]*models.DriftIncident, error)
	ListOpenWithExpiry(ctx context.Context) ([]*models.DriftIncident, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.DriftIncident, error)
	MarkTTLWarningSent(ctx context.Context, incidentID uuid.UUID, at time.Time) error
	PurgePayloads(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// CheckpointStore persists batch-sync progress markers
type CheckpointStore interface {
	Get(ctx context.Context, tenantID string, environmentID uuid.UUID) (*models.SyncCheckpoint, error)
	Put(ctx context.Context, checkpoint *models.SyncCheckpoint) error
	Clear(ctx context.Context, tenantID string, environmentID uuid.UUID) error
}

// DriftCheckStore persists drift-check history
type DriftCheckStore interface {
	Insert(ctx context.Context, check *models.DriftCheck) error
	// PurgeOlderThan deletes checks older than before, always preserving the
	// single most recent check per environment.
	PurgeOlderThan(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// RetentionStore resolves retention policies and purges collaborator
// artifacts this service is responsible for aging out.
type RetentionStore interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error)
	DeleteReconciliationArtifactsBefore(ctx context.Context, tenantID string, before time.Time) (int, error)
	DeleteApprovalsBefore(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// PolicyStore reads tenant auto-incident policies
type PolicyStore interface {
	GetAutoIncidentPolicy(ctx context.Context, tenantID string) (*models.AutoIncidentPolicy, error)
}
