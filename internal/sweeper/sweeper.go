// SPDX-License-Identifier: MIT

// Package sweeper periodically re-validates problematic sources and returns
// the ones that answer again to the candidate pool. It owns the only
// backward health transition. It also removes output directories left on
// disk by streams that are no longer active.
package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/probe"
	"github.com/streamwarden/streamwarden/internal/store"
)

// Sweeper re-validates problematic sources and cleans orphaned artifacts.
type Sweeper struct {
	Store   store.StateStore
	Catalog catalog.Catalog
	Prober  probe.Runner
	Logger  zerolog.Logger

	HLSRoot string
	// Cooldown is the minimum gap between re-validations of one source.
	Cooldown time.Duration
	LockTTL  time.Duration
}

// Schedule registers the sweep on a cron spec and starts the scheduler.
// The caller owns the returned cron and stops it on shutdown.
func (s *Sweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return nil, err
	}
	c.Start()
	s.Logger.Info().Str("spec", spec).Msg("recovery sweeper scheduled")
	return c, nil
}

// Sweep runs one pass: re-validate every problematic source that is due,
// then clean orphaned output directories.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.Cooldown)
	sources, err := s.Catalog.ProblematicSources(ctx, cutoff)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to list problematic sources")
	} else {
		for i := range sources {
			s.revalidate(ctx, &sources[i])
		}
	}
	s.sweepOrphans(ctx)
}

// revalidate probes one problematic source under its revalidation lock.
// Losing the lock means a monitor is acting on this source right now; the
// source stays problematic and gets picked up on a later pass.
func (s *Sweeper) revalidate(ctx context.Context, src *model.StreamSource) {
	owner := uuid.NewString()
	acquired, err := s.Store.AcquireLock(ctx, model.RevalidateLockKey(src.ID), owner, s.LockTTL)
	if err != nil {
		s.Logger.Warn().Err(err).Int64("source_id", src.ID).Msg("revalidation lock failed")
		return
	}
	if !acquired {
		return
	}
	defer func() { _ = s.Store.ReleaseLock(ctx, model.RevalidateLockKey(src.ID), owner) }()

	logger := s.Logger.With().Int64("source_id", src.ID).Logger()
	probeStart := time.Now()
	_, probeErr := s.Prober.Probe(ctx, src.URL)
	metrics.ObserveProbe(probeErr == nil, time.Since(probeStart))

	if probeErr != nil {
		logger.Debug().Err(probeErr).Msg("source still failing")
		if err := s.Catalog.TouchSourceChecked(ctx, src.ID, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("failed to record check time")
		}
		return
	}

	if err := s.Catalog.MarkSourceRecovered(ctx, src.ID, time.Now()); err != nil {
		logger.Error().Err(err).Msg("failed to mark source recovered")
		return
	}
	metrics.SourceRecoveredTotal.Inc()
	logger.Info().Msg("source recovered, returned to candidate pool")
}

// sweepOrphans removes output directories whose stream has neither an
// active-id entry nor a registered pid. They are leftovers of crashed
// instances that never ran their stop cleanup.
func (s *Sweeper) sweepOrphans(ctx context.Context) {
	for _, kind := range []model.ResourceKind{model.KindChannel, model.KindRelay} {
		kindDir := filepath.Join(s.HLSRoot, string(kind))
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			continue
		}

		active := make(map[int64]bool)
		ids, err := s.Store.ActiveIDs(ctx, kind)
		if err != nil {
			s.Logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to list active ids, skipping orphan sweep")
			continue
		}
		for _, id := range ids {
			active[id] = true
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id, err := strconv.ParseInt(e.Name(), 10, 64)
			if err != nil {
				continue
			}
			if active[id] {
				continue
			}
			key := model.StreamKey{Kind: kind, ID: id}
			if _, registered, err := s.Store.GetPID(ctx, key); err != nil || registered {
				continue
			}
			path := filepath.Join(kindDir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				s.Logger.Warn().Err(err).Str("path", path).Msg("failed to remove orphan directory")
				continue
			}
			s.Logger.Info().Str("path", path).Msg("removed orphan output directory")
		}
	}
}
