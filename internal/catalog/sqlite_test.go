// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/model"
)

func setupCatalog(t *testing.T) *SqliteCatalog {
	t.Helper()

	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedChannel(t *testing.T, c *SqliteCatalog, channelID int64, sources ...model.StreamSource) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, c.UpsertChannel(ctx, model.Channel{ID: channelID, Name: "test"}))
	for _, s := range sources {
		s.ChannelID = channelID
		require.NoError(t, c.UpsertSource(ctx, s))
	}
}

func TestSourcesForChannelOrdering(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()

	seedChannel(t, c, 1,
		model.StreamSource{ID: 10, URL: "http://b", Priority: 1, Enabled: true},
		model.StreamSource{ID: 11, URL: "http://a", Priority: 0, Enabled: true},
		model.StreamSource{ID: 12, URL: "http://c", Priority: 1, Enabled: true},
	)

	sources, err := c.SourcesForChannel(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	// Ascending priority, ties broken by insertion (id) order.
	require.EqualValues(t, 11, sources[0].ID)
	require.EqualValues(t, 10, sources[1].ID)
	require.EqualValues(t, 12, sources[2].ID)
}

func TestSessionLifecycle(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	sess := &model.StreamSession{
		ID:        "sess-1",
		Key:       model.StreamKey{Kind: model.KindChannel, ID: 1},
		ChannelID: 1,
		ProfileID: 2,
		StartedAt: now,
	}
	require.NoError(t, c.CreateSession(ctx, sess))

	got, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, model.KindChannel, got.Key.Kind)
	require.EqualValues(t, -1, got.LastSegment)
	require.False(t, got.Terminal)

	require.NoError(t, c.SetSessionSource(ctx, "sess-1", 42, 9000))
	got, err = c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 42, got.ActiveSourceID)
	require.Equal(t, 9000, got.PID)
	require.EqualValues(t, -1, got.LastSegment) // switch resets progress

	require.NoError(t, c.TouchSessionSegment(ctx, "sess-1", 17, now))
	got, err = c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 17, got.LastSegment)

	active, err := c.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, c.MarkSessionTerminal(ctx, "sess-1"))
	active, err = c.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	require.NoError(t, c.DeleteSession(ctx, "sess-1"))
	_, err = c.GetSession(ctx, "sess-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSourceHealthTransitions(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	seedChannel(t, c, 1, model.StreamSource{ID: 5, URL: "http://x", Enabled: true})

	require.NoError(t, c.MarkSourceProblem(ctx, 5, ProblemFailure, now))
	require.NoError(t, c.MarkSourceProblem(ctx, 5, ProblemStall, now))

	src, err := c.GetSource(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, model.HealthProblematic, src.Health)
	require.Equal(t, 1, src.FailureCount)
	require.Equal(t, 1, src.StallCount)
	require.False(t, src.LastErrorAt.IsZero())

	require.NoError(t, c.MarkSourceRecovered(ctx, 5, now))
	src, err = c.GetSource(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, model.HealthRecovered, src.Health)
	require.Zero(t, src.FailureCount)
	require.Zero(t, src.StallCount)
}

func TestProblematicSourcesCooldownFilter(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()

	seedChannel(t, c, 1,
		model.StreamSource{ID: 1, URL: "http://old", Enabled: true},
		model.StreamSource{ID: 2, URL: "http://fresh", Enabled: true},
		model.StreamSource{ID: 3, URL: "http://healthy", Enabled: true},
	)
	require.NoError(t, c.MarkSourceProblem(ctx, 1, ProblemFailure, old))
	require.NoError(t, c.MarkSourceProblem(ctx, 2, ProblemFailure, fresh))

	due, err := c.ProblematicSources(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.EqualValues(t, 1, due[0].ID)

	require.ErrorIs(t, c.MarkSourceProblem(ctx, 999, ProblemFailure, fresh), ErrNotFound)
}
