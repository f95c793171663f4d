// SPDX-License-Identifier: MIT

// Package coordinator serializes stream startup and failover. Exactly one
// actor works on a given stream at a time: a fail-fast distributed lock is
// taken per stream key, a reuse check catches processes started by a racing
// instance, and candidates are attempted in resolver order with admission,
// cooldown and pre-flight gating.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/admission"
	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/probe"
	"github.com/streamwarden/streamwarden/internal/resolver"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
)

var (
	// ErrLockUnavailable means another actor is already starting or
	// switching this stream. Callers back off instead of waiting.
	ErrLockUnavailable = errors.New("stream operation already in progress")
	// ErrNoSourceAvailable means every candidate was skipped or failed.
	ErrNoSourceAvailable = errors.New("no source available")
	// ErrLimitExceeded means the profile's concurrency cap is reached.
	ErrLimitExceeded = errors.New("concurrent stream limit reached")
	// ErrProfileInactive means the subscription profile is disabled.
	ErrProfileInactive = errors.New("subscription profile inactive")
)

// StartResult describes a successful start.
type StartResult struct {
	Session        *model.StreamSession
	SourceID       int64
	PID            int
	AlreadyRunning bool
}

// Coordinator drives startup and failover attempts.
type Coordinator struct {
	Store        store.StateStore
	Catalog      catalog.Catalog
	Validator    *probe.Validator
	Supervisor   supervisor.Supervisor
	Admission    *admission.Controller
	Logger       zerolog.Logger
	LockTTL      time.Duration
	BadSourceTTL time.Duration
}

// StartStream starts the stream for key under the profile's admission
// limits. It is safe to call concurrently from any number of instances:
// losers of the startup lock get ErrLockUnavailable, and a winner that
// finds the stream already live reports it without spawning a second
// process. profileID 0 means no admission tracking.
func (c *Coordinator) StartStream(ctx context.Context, key model.StreamKey, profileID int64) (*StartResult, error) {
	owner := uuid.NewString()
	acquired, err := c.Store.AcquireLock(ctx, model.StartLockKey(key), owner, c.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire start lock: %w", err)
	}
	if !acquired {
		metrics.IncStreamStart(false, "locked")
		return nil, ErrLockUnavailable
	}
	defer func() {
		if err := c.Store.ReleaseLock(ctx, model.StartLockKey(key), owner); err != nil && !errors.Is(err, store.ErrNotOwner) {
			c.Logger.Warn().Err(err).Str("stream", key.String()).Msg("failed to release start lock")
		}
	}()

	// A racing instance may have won an earlier lock and started the
	// process before we got here.
	alive, err := c.Supervisor.IsAlive(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("liveness check: %w", err)
	}
	if alive {
		sess, err := c.findSession(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Logger.Info().Str("stream", key.String()).Msg("stream already running, reusing")
		res := &StartResult{AlreadyRunning: true, Session: sess}
		if sess != nil {
			res.SourceID = sess.ActiveSourceID
			res.PID = sess.PID
		}
		return res, nil
	}

	ch, err := c.Catalog.GetChannel(ctx, key.ID)
	if err != nil {
		metrics.IncStreamStart(false, "unknown_channel")
		return nil, fmt.Errorf("load channel %d: %w", key.ID, err)
	}
	sources, err := c.Catalog.SourcesForChannel(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	candidates := resolver.Resolve(ch, sources)
	if len(candidates) == 0 {
		metrics.IncStreamStart(false, "no_candidates")
		return nil, ErrNoSourceAvailable
	}

	admitted := false
	if profileID != 0 {
		profile, err := c.Catalog.GetProfile(ctx, profileID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		if profile != nil && !profile.Active {
			metrics.IncStreamStart(false, "profile_inactive")
			return nil, ErrProfileInactive
		}
		count, err := c.Admission.Increment(ctx, profileID)
		if err != nil {
			return nil, fmt.Errorf("admission increment: %w", err)
		}
		admitted = true
		if admission.WouldExceed(profile, count) {
			_ = c.Admission.Decrement(ctx, profileID)
			metrics.AdmissionRejectedTotal.Inc()
			metrics.IncStreamStart(false, "limit")
			return nil, ErrLimitExceeded
		}
	}

	won, err := c.attempt(ctx, key, candidates, profileID)
	if err != nil {
		if admitted {
			_ = c.Admission.Decrement(ctx, profileID)
		}
		metrics.IncStreamStart(false, "no_source")
		return nil, err
	}

	now := time.Now()
	sess := &model.StreamSession{
		ID:             uuid.NewString(),
		Key:            key,
		ChannelID:      ch.ID,
		ActiveSourceID: won.SourceID,
		ProfileID:      profileID,
		PID:            won.PID,
		LastSegment:    -1,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := c.Catalog.CreateSession(ctx, sess); err != nil {
		_, _ = c.Supervisor.Stop(ctx, key)
		if admitted {
			_ = c.Admission.Decrement(ctx, profileID)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.IncStreamStart(true, "ok")
	c.Logger.Info().
		Str("stream", key.String()).
		Str("session", sess.ID).
		Int64("source_id", won.SourceID).
		Int("pid", won.PID).
		Msg("stream started")
	return &StartResult{Session: sess, SourceID: won.SourceID, PID: won.PID}, nil
}

// Pick is the candidate that won an attempt.
type Pick struct {
	SourceID int64
	PID      int
}

// attempt walks the candidates in order: cooldown skip, pre-flight probe,
// process start. A candidate that fails probe or start gets a cooldown
// marker so retries within the window go straight to the next one.
func (c *Coordinator) attempt(ctx context.Context, key model.StreamKey, candidates []resolver.Candidate, profileID int64) (*Pick, error) {
	for _, cand := range candidates {
		logger := c.Logger.With().
			Str("stream", key.String()).
			Int64("source_id", cand.SourceID).
			Logger()

		bad, err := c.Store.HasMarker(ctx, model.BadSourceKey(cand.SourceID, profileID))
		if err != nil {
			return nil, fmt.Errorf("cooldown check: %w", err)
		}
		if bad {
			logger.Debug().Msg("skipping source in cooldown")
			continue
		}

		probeStart := time.Now()
		if _, err := c.Validator.Preflight(ctx, key, cand.URL); err != nil {
			metrics.ObserveProbe(false, time.Since(probeStart))
			logger.Warn().Err(err).Msg("pre-flight probe failed, marking source bad")
			c.markBad(ctx, cand.SourceID, profileID)
			continue
		}
		metrics.ObserveProbe(true, time.Since(probeStart))

		pid, err := c.Supervisor.Start(ctx, key, cand.URL)
		if err != nil {
			logger.Error().Err(err).Msg("process start failed, marking source bad")
			c.markBad(ctx, cand.SourceID, profileID)
			continue
		}
		return &Pick{SourceID: cand.SourceID, PID: pid}, nil
	}
	return nil, ErrNoSourceAvailable
}

func (c *Coordinator) markBad(ctx context.Context, sourceID, profileID int64) {
	if err := c.Store.SetMarker(ctx, model.BadSourceKey(sourceID, profileID), c.BadSourceTTL); err != nil {
		c.Logger.Warn().Err(err).Int64("source_id", sourceID).Msg("failed to set cooldown marker")
	}
}

// Switch moves a live session to the next candidate after its current
// source: stop the old process, then attempt the remaining candidates in
// order. The current source must already have been reported to the catalog
// by the caller. Returns the new winner, or ErrNoSourceAvailable once the
// candidate list is exhausted.
func (c *Coordinator) Switch(ctx context.Context, sess *model.StreamSession) (*Pick, error) {
	owner := uuid.NewString()
	acquired, err := c.Store.AcquireLock(ctx, model.StartLockKey(sess.Key), owner, c.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire start lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockUnavailable
	}
	defer func() {
		if err := c.Store.ReleaseLock(ctx, model.StartLockKey(sess.Key), owner); err != nil && !errors.Is(err, store.ErrNotOwner) {
			c.Logger.Warn().Err(err).Str("stream", sess.Key.String()).Msg("failed to release start lock")
		}
	}()

	if _, err := c.Supervisor.Stop(ctx, sess.Key); err != nil {
		c.Logger.Warn().Err(err).Str("stream", sess.Key.String()).Msg("stop before switch failed")
	}

	ch, err := c.Catalog.GetChannel(ctx, sess.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("load channel %d: %w", sess.ChannelID, err)
	}
	sources, err := c.Catalog.SourcesForChannel(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	remaining := resolver.After(resolver.Resolve(ch, sources), sess.ActiveSourceID)
	if len(remaining) == 0 {
		return nil, ErrNoSourceAvailable
	}

	won, err := c.attempt(ctx, sess.Key, remaining, sess.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := c.Catalog.SetSessionSource(ctx, sess.ID, won.SourceID, won.PID); err != nil {
		return nil, fmt.Errorf("update session source: %w", err)
	}
	return won, nil
}

// StopStream terminates the stream for a key, deletes its session and
// releases its admission slot. Safe when nothing is running.
func (c *Coordinator) StopStream(ctx context.Context, key model.StreamKey) (bool, error) {
	sess, err := c.findSession(ctx, key)
	if err != nil {
		return false, err
	}

	wasRunning, err := c.Supervisor.Stop(ctx, key)
	if err != nil {
		return false, err
	}

	if sess != nil {
		if sess.ProfileID != 0 {
			_ = c.Admission.Decrement(ctx, sess.ProfileID)
		}
		if err := c.Catalog.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			c.Logger.Warn().Err(err).Str("session", sess.ID).Msg("failed to delete session")
		}
	}
	return wasRunning, nil
}

func (c *Coordinator) findSession(ctx context.Context, key model.StreamKey) (*model.StreamSession, error) {
	sessions, err := c.Catalog.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for i := range sessions {
		if sessions[i].Key == key {
			return &sessions[i], nil
		}
	}
	return nil, nil
}
