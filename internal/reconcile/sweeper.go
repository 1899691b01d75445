package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes processed-event records past the retention
// window. Provider redelivery windows are days, not weeks, so old dedup
// records only cost storage.
type Sweeper struct {
	events    EventStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
}

// NewSweeper creates a retention sweeper.
func NewSweeper(events EventStore, retention time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		events:    events,
		retention: retention,
		interval:  1 * time.Hour,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.events.DeleteOlderThan(ctx, time.Now().UTC().Add(-s.retention))
	if err != nil {
		s.logger.Warn("failed to sweep processed webhook events", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("processed webhook events swept", "count", count)
	}
}
