package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/cmd/driftd/service"
	"github.com/flowops/driftd/common/logger"
)

// Resolution recorded on incidents the TTL loop closes
const (
	TTLResolutionType   = "ttl_expired"
	TTLResolutionReason = "TTL expired"
	TTLActor            = "ttl-scheduler"
)

// TTLLoop auto-closes incidents past their expiry and sends a single
// warning notification as expiry approaches.
type TTLLoop struct {
	store         service.IncidentStore
	incidents     *service.IncidentService
	notifier      adapters.Notifier
	interval      time.Duration
	warningWindow time.Duration
	log           *logger.Logger
	now           func() time.Time
}

// NewTTLLoop creates the periodic incident TTL loop
func NewTTLLoop(
	store service.IncidentStore,
	incidents *service.IncidentService,
	notifier adapters.Notifier,
	interval, warningWindow time.Duration,
	log *logger.Logger,
) *TTLLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	if warningWindow <= 0 {
		warningWindow = 6 * time.Hour
	}
	return &TTLLoop{
		store:         store,
		incidents:     incidents,
		notifier:      notifier,
		interval:      interval,
		warningWindow: warningWindow,
		log:           log,
		now:           time.Now,
	}
}

// Start runs the loop until the context is cancelled
func (l *TTLLoop) Start(ctx context.Context) error {
	l.log.Info("ttl loop starting", "interval", l.interval, "warning_window", l.warningWindow)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("ttl loop shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := l.runOnce(ctx); err != nil {
				l.log.Error("ttl pass failed", "error", err)
			}
		}
	}
}

// runOnce walks every open incident that carries an expiry
func (l *TTLLoop) runOnce(ctx context.Context) error {
	open, err := l.store.ListOpenWithExpiry(ctx)
	if err != nil {
		return fmt.Errorf("failed to list expiring incidents: %w", err)
	}

	now := l.now().UTC()
	for _, incident := range open {
		if incident.ExpiresAt == nil {
			continue
		}

		if !now.Before(*incident.ExpiresAt) {
			l.expire(ctx, incident)
			continue
		}

		if incident.TTLWarningSentAt == nil && now.After(incident.ExpiresAt.Add(-l.warningWindow)) {
			l.warn(ctx, incident, now)
		}
	}

	return nil
}

func (l *TTLLoop) expire(ctx context.Context, incident *models.DriftIncident) {
	_, err := l.incidents.CloseIncident(ctx, incident.IncidentID, TTLActor, TTLResolutionType, TTLResolutionReason)
	if err != nil {
		// Someone may have closed it between the list and the close; that
		// is the idempotent outcome we want.
		l.log.Warn("ttl auto-close failed",
			"incident_id", incident.IncidentID, "error", err)
		return
	}

	l.emit(ctx, incident, adapters.EventTTLExpired)

	l.log.Info("incident auto-closed by ttl",
		"incident_id", incident.IncidentID,
		"tenant_id", incident.TenantID,
		"expired_at", incident.ExpiresAt)
}

// warn sends the pre-expiry notification exactly once per incident. The
// sent marker is persisted before counting on it, so a crash between
// emit and mark can at worst repeat the warning, never drop it.
func (l *TTLLoop) warn(ctx context.Context, incident *models.DriftIncident, now time.Time) {
	l.emit(ctx, incident, adapters.EventTTLWarning)

	if err := l.store.MarkTTLWarningSent(ctx, incident.IncidentID, now); err != nil {
		l.log.Warn("failed to mark ttl warning sent",
			"incident_id", incident.IncidentID, "error", err)
		return
	}

	l.log.Info("ttl warning sent",
		"incident_id", incident.IncidentID,
		"expires_at", incident.ExpiresAt)
}

func (l *TTLLoop) emit(ctx context.Context, incident *models.DriftIncident, eventType string) {
	metadata := map[string]interface{}{
		"incident_id": incident.IncidentID.String(),
		"severity":    string(incident.Severity),
	}
	if incident.ExpiresAt != nil {
		metadata["expires_at"] = incident.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := l.notifier.Emit(ctx, incident.TenantID, eventType, incident.EnvironmentID, metadata); err != nil {
		l.log.Warn("ttl notification emit failed",
			"incident_id", incident.IncidentID,
			"event_type", eventType,
			"error", err)
	}
}
