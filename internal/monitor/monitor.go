// SPDX-License-Identifier: MIT

// Package monitor watches live sessions for process death and output
// stalls, and drives failover to the next candidate source. Each session
// check runs under a per-session distributed lock, so overlapping ticks and
// multiple instances never double-count a problem or race a switch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/admission"
	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/coordinator"
	"github.com/streamwarden/streamwarden/internal/hls"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/notify"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
)

// Trigger labels for failover metrics and logs.
const (
	TriggerProcessDeath = "process_death"
	TriggerStall        = "stall"
)

// Monitor checks sessions and reacts to unhealthy ones.
type Monitor struct {
	Store       store.StateStore
	Catalog     catalog.Catalog
	Supervisor  supervisor.Supervisor
	Coordinator *coordinator.Coordinator
	Admission   *admission.Controller
	Notifier    notify.Notifier
	Logger      zerolog.Logger

	HLSRoot     string
	StallWindow time.Duration
	LockTTL     time.Duration
}

// CheckSession runs one health check for a session. Returns nil when the
// session is healthy, when another actor holds its monitor lock, or after a
// problem was fully handled. The lock makes repeated delivery of the same
// observation harmless: whoever loses the lock does nothing.
func (m *Monitor) CheckSession(ctx context.Context, sess *model.StreamSession) error {
	owner := uuid.NewString()
	acquired, err := m.Store.AcquireLock(ctx, model.MonitorLockKey(sess.ID), owner, m.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire monitor lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := m.Store.ReleaseLock(ctx, model.MonitorLockKey(sess.ID), owner); err != nil && !errors.Is(err, store.ErrNotOwner) {
			m.Logger.Warn().Err(err).Str("session", sess.ID).Msg("failed to release monitor lock")
		}
	}()

	alive, err := m.Supervisor.IsAlive(ctx, sess.Key)
	if err != nil {
		return fmt.Errorf("liveness check: %w", err)
	}
	if !alive {
		m.Logger.Warn().
			Str("session", sess.ID).
			Str("stream", sess.Key.String()).
			Msg("transcoder process gone")
		return m.handleProblem(ctx, sess, catalog.ProblemFailure, TriggerProcessDeath)
	}

	stalled, err := m.checkProgress(ctx, sess)
	if err != nil {
		return err
	}
	if stalled {
		m.Logger.Warn().
			Str("session", sess.ID).
			Str("stream", sess.Key.String()).
			Int64("last_segment", sess.LastSegment).
			Msg("output stalled")
		return m.handleProblem(ctx, sess, catalog.ProblemStall, TriggerStall)
	}
	return nil
}

// checkProgress compares the manifest's terminal segment index against the
// session's last observation. Advancement is the only health signal read
// from the output; segment file sizes and timestamps are ignored.
func (m *Monitor) checkProgress(ctx context.Context, sess *model.StreamSession) (bool, error) {
	idx, err := hls.LastSegmentIndexFile(model.ManifestPath(m.HLSRoot, sess.Key))
	if err != nil {
		return false, fmt.Errorf("read manifest: %w", err)
	}

	if idx > sess.LastSegment {
		if err := m.Catalog.TouchSessionSegment(ctx, sess.ID, idx, time.Now()); err != nil {
			return false, fmt.Errorf("record progress: %w", err)
		}
		return false, nil
	}

	// No advancement. Stalled only once the window since the last observed
	// progress has fully elapsed; a fresh session measures from its start.
	baseline := sess.LastSegmentAt
	if baseline.IsZero() {
		baseline = sess.StartedAt
	}
	return time.Since(baseline) > m.StallWindow, nil
}

// handleProblem records the source failure and switches the session to the
// next candidate. Source health is only touched when the revalidation lock
// is free, so a sweeper mid-probe on the same source is never contradicted.
func (m *Monitor) handleProblem(ctx context.Context, sess *model.StreamSession, kind catalog.ProblemKind, trigger string) error {
	if sess.ActiveSourceID != 0 {
		m.markProblem(ctx, sess.ActiveSourceID, kind)
	}

	won, err := m.Coordinator.Switch(ctx, sess)
	switch {
	case err == nil:
		metrics.IncFailover(trigger, true)
		m.Logger.Info().
			Str("session", sess.ID).
			Int64("new_source_id", won.SourceID).
			Str("trigger", trigger).
			Msg("failover complete")
		m.Notifier.StreamSwitched(ctx, notify.SwitchedEvent{
			ChannelID:      sess.ChannelID,
			SessionID:      sess.ID,
			NewSourceID:    won.SourceID,
			NewManifestURL: manifestURL(sess.Key),
		})
		return nil

	case errors.Is(err, coordinator.ErrLockUnavailable):
		// Another actor is already switching; retry next tick.
		return nil

	case errors.Is(err, coordinator.ErrNoSourceAvailable):
		metrics.IncFailover(trigger, false)
		return m.terminate(ctx, sess)

	default:
		metrics.IncFailover(trigger, false)
		return fmt.Errorf("switch session %s: %w", sess.ID, err)
	}
}

func (m *Monitor) markProblem(ctx context.Context, sourceID int64, kind catalog.ProblemKind) {
	owner := uuid.NewString()
	acquired, err := m.Store.AcquireLock(ctx, model.RevalidateLockKey(sourceID), owner, m.LockTTL)
	if err != nil || !acquired {
		return
	}
	defer func() { _ = m.Store.ReleaseLock(ctx, model.RevalidateLockKey(sourceID), owner) }()

	if err := m.Catalog.MarkSourceProblem(ctx, sourceID, kind, time.Now()); err != nil {
		m.Logger.Warn().Err(err).Int64("source_id", sourceID).Msg("failed to mark source problem")
	}
}

// terminate gives up on a session: stop and clean the process, release the
// admission slot, mark the session terminal and tell consumers.
func (m *Monitor) terminate(ctx context.Context, sess *model.StreamSession) error {
	if _, err := m.Supervisor.Stop(ctx, sess.Key); err != nil {
		m.Logger.Warn().Err(err).Str("stream", sess.Key.String()).Msg("cleanup stop failed")
	}
	if sess.ProfileID != 0 {
		_ = m.Admission.Decrement(ctx, sess.ProfileID)
	}
	if err := m.Catalog.MarkSessionTerminal(ctx, sess.ID); err != nil {
		return fmt.Errorf("mark session terminal: %w", err)
	}

	m.Logger.Error().
		Str("session", sess.ID).
		Str("stream", sess.Key.String()).
		Msg("all sources exhausted, stream unavailable")
	m.Notifier.StreamUnavailable(ctx, notify.UnavailableEvent{
		ChannelID:    sess.ChannelID,
		ResourceKind: sess.Key.Kind,
		Message:      "all sources failed",
	})
	return nil
}

func manifestURL(key model.StreamKey) string {
	return fmt.Sprintf("/hls/%s/%d/index.m3u8", key.Kind, key.ID)
}
