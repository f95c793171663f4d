// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/model"
)

// setupStore creates a miniredis-backed state store for testing.
func setupStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisStoreFromClient(client, zerolog.Nop())
}

func TestPIDRegistry(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	key := model.StreamKey{Kind: model.KindChannel, ID: 7}

	_, ok, err := s.GetPID(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RegisterPID(ctx, key, 4242))

	pid, ok, err := s.GetPID(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4242, pid)

	require.NoError(t, s.ClearPID(ctx, key))
	_, ok, err = s.GetPID(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	// Clearing an absent pid is a no-op.
	require.NoError(t, s.ClearPID(ctx, key))
}

func TestActiveIDSet(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddActive(ctx, model.StreamKey{Kind: model.KindChannel, ID: 1}))
	require.NoError(t, s.AddActive(ctx, model.StreamKey{Kind: model.KindChannel, ID: 2}))
	require.NoError(t, s.AddActive(ctx, model.StreamKey{Kind: model.KindRelay, ID: 9}))

	ids, err := s.ActiveIDs(ctx, model.KindChannel)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)

	require.NoError(t, s.RemoveActive(ctx, model.StreamKey{Kind: model.KindChannel, ID: 1}))
	ids, err = s.ActiveIDs(ctx, model.KindChannel)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2}, ids)
}

func TestMarkerTTL(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()
	key := model.BadSourceKey(5, 3)

	require.NoError(t, s.SetMarker(ctx, key, time.Minute))

	ok, err := s.HasMarker(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = s.HasMarker(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCounterFloorsAtZero(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	key := model.ProfileConnectionsKey(1)

	n, err := s.Increment(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.Decrement(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	// Redundant decrement must not go negative.
	n, err = s.Decrement(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	n, err = s.Counter(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestJSONRoundTripWithTTL(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()
	key := model.ProbeDetailsKey(model.StreamKey{Kind: model.KindChannel, ID: 4})

	type details struct {
		Codec string `json:"codec"`
		Width int    `json:"width"`
	}

	require.NoError(t, s.SetJSON(ctx, key, details{Codec: "h264", Width: 1920}, time.Hour))

	var got details
	ok, err := s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h264", got.Codec)
	require.Equal(t, 1920, got.Width)

	mr.FastForward(2 * time.Hour)
	ok, err = s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLockFailFastAndOwnership(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()
	key := model.StartLockKey(model.StreamKey{Kind: model.KindChannel, ID: 3})

	ok, err := s.AcquireLock(ctx, key, "req-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Second acquirer fails immediately, never blocks.
	ok, err = s.AcquireLock(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Non-owner release is rejected and leaves the lock in place.
	require.ErrorIs(t, s.ReleaseLock(ctx, key, "req-b"), ErrNotOwner)
	ok, err = s.AcquireLock(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, key, "req-a"))
	ok, err = s.AcquireLock(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired locks release themselves.
	mr.FastForward(2 * time.Minute)
	ok, err = s.AcquireLock(ctx, key, "req-c", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Releasing an expired lock is a no-op.
	require.NoError(t, s.ReleaseLock(ctx, key, "req-b"))
}
