package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/flowops/driftd/common/logger"
)

// Loop is one periodic control loop. Start blocks until ctx is cancelled.
type Loop interface {
	Start(ctx context.Context) error
}

// Scheduler runs the service's control loops and stops them together
type Scheduler struct {
	loops  []Loop
	log    *logger.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the given loops
func New(log *logger.Logger, loops ...Loop) *Scheduler {
	return &Scheduler{loops: loops, log: log}
}

// Start launches every loop in its own goroutine
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, loop := range s.loops {
		s.wg.Add(1)
		go func(l Loop) {
			defer s.wg.Done()
			if err := l.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("scheduler loop exited", "error", err)
			}
		}(loop)
	}

	s.log.Info("scheduler started", "loops", len(s.loops))
}

// Stop cancels all loops and waits for them to exit
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}
