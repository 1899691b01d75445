package checkout

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically expires stale checkout sessions.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new session-expiry timer.
func NewTimer(service *Service, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: 5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.expire(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) expire(ctx context.Context) {
	count, err := t.service.ExpireStale(ctx)
	if err != nil {
		t.logger.Warn("failed to expire checkout sessions", "error", err)
		return
	}
	if count > 0 {
		t.logger.Info("checkout sessions expired", "count", count)
	}
}
