// SPDX-License-Identifier: MIT

package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/model"
)

func TestResolveOrdering(t *testing.T) {
	ch := &model.Channel{ID: 1, SourceURL: "http://direct"}
	sources := []model.StreamSource{
		{ID: 3, URL: "http://p2-first", Priority: 2, Enabled: true},
		{ID: 4, URL: "http://p0", Priority: 0, Enabled: true},
		{ID: 5, URL: "http://p2-second", Priority: 2, Enabled: true},
		{ID: 6, URL: "http://disabled", Priority: 1, Enabled: false},
		{ID: 7, URL: "", Priority: 1, Enabled: true},
	}

	got := Resolve(ch, sources)
	require.Len(t, got, 4)

	require.True(t, got[0].Primary)
	require.Equal(t, "http://direct", got[0].URL)

	require.EqualValues(t, 4, got[1].SourceID)
	// Equal priorities keep insertion order.
	require.EqualValues(t, 3, got[2].SourceID)
	require.EqualValues(t, 5, got[3].SourceID)
}

func TestResolveNoDirectSource(t *testing.T) {
	ch := &model.Channel{ID: 1}
	sources := []model.StreamSource{
		{ID: 2, URL: "http://only", Priority: 0, Enabled: true},
	}

	got := Resolve(ch, sources)
	require.Len(t, got, 1)
	require.False(t, got[0].Primary)
}

func TestResolveEmpty(t *testing.T) {
	require.Empty(t, Resolve(&model.Channel{ID: 1}, nil))
	require.Empty(t, Resolve(nil, nil))
}

func TestAfter(t *testing.T) {
	candidates := []Candidate{
		{SourceID: 0, Primary: true},
		{SourceID: 10},
		{SourceID: 20},
		{SourceID: 30},
	}

	rest := After(candidates, 10)
	require.Len(t, rest, 2)
	require.EqualValues(t, 20, rest[0].SourceID)

	require.Empty(t, After(candidates, 30))
	require.Empty(t, After(candidates, 99))
}
