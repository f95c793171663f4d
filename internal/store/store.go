// SPDX-License-Identifier: MIT

// Package store provides the shared ephemeral state store used by every
// component: pid registry, active-id sets, cooldown markers, admission
// counters, probe caches and coordination locks. All keys are namespaced by
// internal/model key builders and TTL'd where ephemeral.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/streamwarden/streamwarden/internal/model"
)

// ErrNotOwner is returned when releasing a lock held by someone else.
var ErrNotOwner = errors.New("lock not held by owner")

// StateStore is the shared key-value surface injected into every component.
// Operations are independent atomic actions; there is no broader transaction.
type StateStore interface {
	// Pid registry. At most one live process per stream key.
	RegisterPID(ctx context.Context, key model.StreamKey, pid int) error
	GetPID(ctx context.Context, key model.StreamKey) (pid int, ok bool, err error)
	ClearPID(ctx context.Context, key model.StreamKey) error

	// Active-id sets per resource kind.
	AddActive(ctx context.Context, key model.StreamKey) error
	RemoveActive(ctx context.Context, key model.StreamKey) error
	ActiveIDs(ctx context.Context, kind model.ResourceKind) ([]int64, error)

	// TTL markers (bad-source cooldown and similar).
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
	HasMarker(ctx context.Context, key string) (bool, error)
	ClearMarker(ctx context.Context, key string) error

	// Relaxed-consistency counters. Decrement floors at zero.
	Increment(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)

	// JSON blobs with TTL (probe details).
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, key string) error

	// Mutexes. Acquire is fail-fast: false means someone else holds it.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error

	Ping(ctx context.Context) error
	Close() error
}
