package scheduler

import (
	"context"
	"time"

	"github.com/flowops/driftd/cmd/driftd/service"
	"github.com/flowops/driftd/common/logger"
)

// RetentionLoop periodically runs the retention purge for all tenants
type RetentionLoop struct {
	retention *service.RetentionService
	interval  time.Duration
	log       *logger.Logger
}

// NewRetentionLoop creates the periodic retention loop
func NewRetentionLoop(retention *service.RetentionService, interval time.Duration, log *logger.Logger) *RetentionLoop {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionLoop{retention: retention, interval: interval, log: log}
}

// Start runs the loop until the context is cancelled
func (l *RetentionLoop) Start(ctx context.Context) error {
	l.log.Info("retention loop starting", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("retention loop shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.retention.RunAll(ctx); err != nil {
				l.log.Error("retention pass failed", "error", err)
			}
		}
	}
}
