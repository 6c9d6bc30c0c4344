// Package retention runs the background sweep that deletes old challenges
// and expired single-use markers.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/codecaptcha/internal/kv"
	"github.com/ashureev/codecaptcha/internal/metrics"
)

const defaultInterval = 5 * time.Minute

// ChallengePruner deletes challenges created before a cutoff.
type ChallengePruner interface {
	DeleteChallengesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the sweep. A zero Retention keeps challenges forever.
type Config struct {
	Challenges ChallengePruner
	Markers    kv.Sweeper
	Retention  time.Duration
	Interval   time.Duration
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Result counts what one sweep removed.
type Result struct {
	Challenges int64
	Markers    int64
}

// Start runs Sweep every Interval until ctx is cancelled.
func Start(ctx context.Context, cfg Config) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("retention worker started", "interval", interval, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, cfg)
			case <-ctx.Done():
				slog.Info("retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs one pass. Failures are logged; one failing step does not
// skip the other.
func Sweep(ctx context.Context, cfg Config) Result {
	var res Result
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	if cfg.Challenges != nil && cfg.Retention > 0 {
		n, err := cfg.Challenges.DeleteChallengesBefore(ctx, now().Add(-cfg.Retention))
		if err != nil {
			slog.Error("retention worker failed to delete old challenges", "error", err)
		} else {
			res.Challenges = n
			cfg.Metrics.Swept("challenges", n)
		}
	}

	if cfg.Markers != nil {
		n, err := cfg.Markers.DeleteExpired(ctx)
		if err != nil {
			slog.Error("retention worker failed to sweep single-use markers", "error", err)
		} else {
			res.Markers = int64(n)
			cfg.Metrics.Swept("markers", int64(n))
		}
	}

	if res.Challenges > 0 || res.Markers > 0 {
		slog.Info("retention sweep completed", "challenges", res.Challenges, "markers", res.Markers)
	}
	return res
}
