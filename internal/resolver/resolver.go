// SPDX-License-Identifier: MIT

// Package resolver orders a channel's candidate sources for a start or
// failover attempt. Pure: no I/O, no side effects.
package resolver

import (
	"sort"

	"github.com/streamwarden/streamwarden/internal/model"
)

// Candidate is one attemptable upstream with its origin.
type Candidate struct {
	SourceID int64 // 0 for the channel's direct source
	URL      string
	Priority int // direct source sorts before every failover source
	Primary  bool
}

// Resolve returns the ordered candidate list for a channel: the direct
// source first when configured, then enabled failover sources by ascending
// priority, ties broken by stable insertion order. Disabled sources are
// dropped here; cooldown filtering happens at attempt time.
func Resolve(ch *model.Channel, sources []model.StreamSource) []Candidate {
	var out []Candidate
	if ch != nil && ch.SourceURL != "" {
		out = append(out, Candidate{URL: ch.SourceURL, Priority: -1, Primary: true})
	}

	failovers := make([]model.StreamSource, 0, len(sources))
	for _, s := range sources {
		if !s.Enabled || s.URL == "" {
			continue
		}
		failovers = append(failovers, s)
	}
	sort.SliceStable(failovers, func(i, j int) bool {
		return failovers[i].Priority < failovers[j].Priority
	})

	for _, s := range failovers {
		out = append(out, Candidate{SourceID: s.ID, URL: s.URL, Priority: s.Priority})
	}
	return out
}

// After returns the candidates strictly after the one identified by
// sourceID, preserving order. Used by failover to restrict an attempt to the
// remaining lower-priority candidates. An unknown sourceID returns nil:
// priority-nondecreasing traversal never restarts from the top.
func After(candidates []Candidate, sourceID int64) []Candidate {
	for i, c := range candidates {
		if c.SourceID == sourceID {
			return candidates[i+1:]
		}
	}
	return nil
}
