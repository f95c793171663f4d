// SPDX-License-Identifier: MIT

// Package admission tracks concurrent-stream counts per subscription profile.
// The pattern is optimistic increment with rollback, not hold-and-check:
// callers increment first, test the returned count against the limit, and
// decrement on every path that fails or is rejected. Transient overshoot is
// bounded by the number of concurrently racing attempts.
package admission

import (
	"context"

	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/store"
)

// Controller enforces per-profile concurrency limits.
type Controller struct {
	Store store.StateStore
}

// Increment atomically raises the profile's live-stream counter and returns
// the new value.
func (c *Controller) Increment(ctx context.Context, profileID int64) (int64, error) {
	return c.Store.Increment(ctx, model.ProfileConnectionsKey(profileID))
}

// Decrement atomically lowers the counter. Safe to call redundantly; the
// store floors the counter at zero.
func (c *Controller) Decrement(ctx context.Context, profileID int64) error {
	_, err := c.Store.Decrement(ctx, model.ProfileConnectionsKey(profileID))
	return err
}

// Count returns the current counter value.
func (c *Controller) Count(ctx context.Context, profileID int64) (int64, error) {
	return c.Store.Counter(ctx, model.ProfileConnectionsKey(profileID))
}

// WouldExceed reports whether count breaches the profile's limit. A profile
// without a limit never exceeds.
func WouldExceed(profile *model.SubscriptionProfile, count int64) bool {
	if profile == nil || profile.Unlimited() {
		return false
	}
	return count > int64(profile.MaxConcurrent)
}
