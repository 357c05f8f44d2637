package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flowops/driftd/common/logger"
)

// RetentionService ages out historical payloads per tenant policy. It is
// non-destructive toward state rows: incident rows survive with their
// payload fields cleared, drift-check history always keeps the newest
// check per environment, and mappings are never touched here at all.
type RetentionService struct {
	environments EnvironmentStore
	incidents    IncidentStore
	driftChecks  DriftCheckStore
	retention    RetentionStore
	log          *logger.Logger
	now          func() time.Time
}

// NewRetentionService creates a new retention engine
func NewRetentionService(
	environments EnvironmentStore,
	incidents IncidentStore,
	driftChecks DriftCheckStore,
	retention RetentionStore,
	log *logger.Logger,
) *RetentionService {
	return &RetentionService{
		environments: environments,
		incidents:    incidents,
		driftChecks:  driftChecks,
		retention:    retention,
		log:          log,
		now:          time.Now,
	}
}

// RetentionResult aggregates one tenant's purge pass
type RetentionResult struct {
	DriftChecksPurged      int      `json:"drift_checks_purged"`
	IncidentPayloadsPurged int      `json:"incident_payloads_purged"`
	ReconciliationsPurged  int      `json:"reconciliations_purged"`
	ApprovalsPurged        int      `json:"approvals_purged"`
	Errors                 []string `json:"errors,omitempty"`
}

// RunForTenant applies the tenant's resolved retention policy. Each purge
// target is independent: one failing never blocks the others.
func (s *RetentionService) RunForTenant(ctx context.Context, tenantID string) (*RetentionResult, error) {
	stored, err := s.retention.GetPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load retention policy: %w", err)
	}
	policy := stored.Resolve()

	now := s.now().UTC()
	result := &RetentionResult{}

	purged, err := s.driftChecks.PurgeOlderThan(ctx, tenantID, now.AddDate(0, 0, -policy.DriftCheckDays))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("drift checks: %v", err))
	} else {
		result.DriftChecksPurged = purged
	}

	purged, err = s.incidents.PurgePayloads(ctx, tenantID, now.AddDate(0, 0, -policy.IncidentPayloadDays))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("incident payloads: %v", err))
	} else {
		result.IncidentPayloadsPurged = purged
	}

	purged, err = s.retention.DeleteReconciliationArtifactsBefore(ctx, tenantID, now.AddDate(0, 0, -policy.ReconciliationDays))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reconciliation artifacts: %v", err))
	} else {
		result.ReconciliationsPurged = purged
	}

	purged, err = s.retention.DeleteApprovalsBefore(ctx, tenantID, now.AddDate(0, 0, -policy.ApprovalDays))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("approvals: %v", err))
	} else {
		result.ApprovalsPurged = purged
	}

	s.log.Info("retention pass complete",
		"tenant_id", tenantID,
		"drift_checks", result.DriftChecksPurged,
		"incident_payloads", result.IncidentPayloadsPurged,
		"reconciliations", result.ReconciliationsPurged,
		"approvals", result.ApprovalsPurged,
		"errors", len(result.Errors),
	)

	return result, nil
}

// RunAll runs retention for every known tenant, continuing past tenant
// failures.
func (s *RetentionService) RunAll(ctx context.Context) (map[string]*RetentionResult, error) {
	tenants, err := s.environments.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	results := make(map[string]*RetentionResult, len(tenants))
	for _, tenantID := range tenants {
		result, err := s.RunForTenant(ctx, tenantID)
		if err != nil {
			s.log.Warn("retention pass failed", "tenant_id", tenantID, "error", err)
			continue
		}
		results[tenantID] = result
	}
	return results, nil
}
