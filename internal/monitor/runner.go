// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"time"
)

// Runner periodically checks every active session.
type Runner struct {
	Monitor  *Monitor
	Interval time.Duration
}

// Run blocks until ctx is done, ticking at the configured interval. A slow
// tick simply delays the next one; overlap protection lives in the
// per-session monitor locks, not here.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Monitor.Logger.Info().Dur("interval", interval).Msg("health monitor started")
	for {
		select {
		case <-ctx.Done():
			r.Monitor.Logger.Info().Msg("health monitor stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	sessions, err := r.Monitor.Catalog.ListActiveSessions(ctx)
	if err != nil {
		r.Monitor.Logger.Error().Err(err).Msg("failed to list sessions")
		return
	}
	for i := range sessions {
		if err := r.Monitor.CheckSession(ctx, &sessions[i]); err != nil {
			r.Monitor.Logger.Error().
				Err(err).
				Str("session", sessions[i].ID).
				Msg("session check failed")
		}
	}
}
