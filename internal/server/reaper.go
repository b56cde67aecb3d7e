package server

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically disconnects sessions that have been idle longer than
// the configured timeout.
type Reaper struct {
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	evict       func(Session)
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewReaper creates a Reaper. evict runs in its own goroutine for every stale
// session and must tolerate the session already being gone.
func NewReaper(registry *Registry, idleTimeout, interval time.Duration, evict func(Session), metrics *Metrics, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry:    registry,
		idleTimeout: idleTimeout,
		interval:    interval,
		evict:       evict,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("idle reaper started", "interval", r.interval, "timeout", r.idleTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep evaluates every session against now and starts eviction of the
// stale ones. It returns the sessions it evicted. Evictions run
// concurrently with the scan so one stuck peer cannot stall the rest.
func (r *Reaper) Sweep(now time.Time) []Session {
	var stale []Session
	for _, s := range r.registry.Snapshot() {
		if now.Sub(s.LastActivity) <= r.idleTimeout {
			continue
		}
		stale = append(stale, s)

		r.logger.Info("user timed out due to inactivity", "user", s.Username, "idle", now.Sub(s.LastActivity).Round(time.Second))
		r.metrics.idleEvicted()
		if err := s.Client.Send(infoLine(idleTimeoutNotice)); err != nil {
			r.logger.Debug("failed to send idle notice", "user", s.Username, "err", err)
		}
		go r.evict(s)
	}
	return stale
}
