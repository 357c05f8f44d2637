package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/cmd/driftd/service"
	"github.com/flowops/driftd/common/logger"
)

// DetectedBySystem is recorded on incidents raised by the drift loop
const DetectedBySystem = "drift-scheduler"

// DriftLoop periodically runs drift detection over every eligible
// environment and raises incidents per tenant policy.
type DriftLoop struct {
	environments service.EnvironmentStore
	drift        *service.DriftService
	incidents    *service.IncidentService
	policy       *service.PolicyService
	interval     time.Duration
	log          *logger.Logger
}

// NewDriftLoop creates the periodic drift detection loop
func NewDriftLoop(
	environments service.EnvironmentStore,
	drift *service.DriftService,
	incidents *service.IncidentService,
	policy *service.PolicyService,
	interval time.Duration,
	log *logger.Logger,
) *DriftLoop {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DriftLoop{
		environments: environments,
		drift:        drift,
		incidents:    incidents,
		policy:       policy,
		interval:     interval,
		log:          log,
	}
}

// Start runs the loop until the context is cancelled
func (l *DriftLoop) Start(ctx context.Context) error {
	l.log.Info("drift loop starting", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("drift loop shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := l.runOnce(ctx); err != nil {
				l.log.Error("drift pass failed", "error", err)
			}
		}
	}
}

// runOnce runs one detection pass. A single environment's failure never
// stops the pass.
func (l *DriftLoop) runOnce(ctx context.Context) error {
	environments, err := l.environments.ListDriftEligible(ctx)
	if err != nil {
		return fmt.Errorf("failed to list drift-eligible environments: %w", err)
	}

	for _, env := range environments {
		// The store already filters, but re-check here so a stale or
		// overly broad listing never triggers detection on a dev
		// environment.
		if !env.DriftEligible() {
			continue
		}

		summary, err := l.drift.DetectDrift(ctx, env.TenantID, env.EnvironmentID)
		if err != nil {
			l.log.Error("drift detection failed",
				"tenant_id", env.TenantID,
				"environment_id", env.EnvironmentID,
				"error", err)
			continue
		}

		if summary.Status != models.DriftStatusDetected {
			continue
		}

		l.maybeRaiseIncident(ctx, env, summary)
	}

	return nil
}

func (l *DriftLoop) maybeRaiseIncident(ctx context.Context, env *models.Environment, summary *service.EnvironmentDriftSummary) {
	severity := service.SeverityForCount(len(summary.AffectedWorkflows))

	create, err := l.policy.ShouldAutoCreate(ctx, env, len(summary.AffectedWorkflows), severity)
	if err != nil {
		l.log.Warn("auto-incident policy check failed",
			"tenant_id", env.TenantID,
			"environment_id", env.EnvironmentID,
			"error", err)
		return
	}
	if !create {
		return
	}

	snapshot, err := json.Marshal(summary)
	if err != nil {
		snapshot = nil
	}

	expiresAt := time.Now().UTC().Add(l.policy.TTLForSeverity(severity))
	detectedBy := DetectedBySystem

	_, err = l.incidents.CreateIncident(ctx, &service.CreateIncidentRequest{
		TenantID:          env.TenantID,
		EnvironmentID:     env.EnvironmentID,
		Severity:          severity,
		AffectedWorkflows: summary.AffectedWorkflows,
		DriftSnapshot:     snapshot,
		ExpiresAt:         &expiresAt,
		DetectedBy:        &detectedBy,
	})
	if err != nil {
		// Already-active and duplicate rejections are the normal steady
		// state for ongoing drift, not failures.
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			l.log.Debug("incident not raised",
				"environment_id", env.EnvironmentID,
				"reason", conflict.Kind,
				"existing_incident", conflict.IncidentID)
			return
		}
		l.log.Error("failed to raise drift incident",
			"tenant_id", env.TenantID,
			"environment_id", env.EnvironmentID,
			"error", err)
	}
}
