// SPDX-License-Identifier: MIT

package probe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/store"
)

// Validator is the pre-flight check: one probe per candidate, details cached
// for diagnostic display on success.
type Validator struct {
	Runner   Runner
	Store    store.StateStore
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

// Preflight validates a candidate URL for a stream. On success the parsed
// details are cached under the stream's probe-details key. Failures pass
// through untouched so callers can match ErrSourceNotResponding.
func (v *Validator) Preflight(ctx context.Context, key model.StreamKey, url string) (*Details, error) {
	details, err := v.Runner.Probe(ctx, url)
	if err != nil {
		return nil, err
	}

	ttl := v.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := v.Store.SetJSON(ctx, model.ProbeDetailsKey(key), details, ttl); err != nil {
		// Cache is diagnostic only; a store hiccup must not fail the start.
		v.Logger.Warn().Err(err).Str("stream", key.String()).Msg("failed to cache probe details")
	}
	return details, nil
}

// CachedDetails returns the last cached probe result for a stream, if any.
func (v *Validator) CachedDetails(ctx context.Context, key model.StreamKey) (*Details, bool, error) {
	var d Details
	ok, err := v.Store.GetJSON(ctx, model.ProbeDetailsKey(key), &d)
	if err != nil || !ok {
		return nil, false, err
	}
	return &d, true, nil
}
