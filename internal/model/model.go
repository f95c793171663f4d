// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// ResourceKind tags the type of resource a live process serves. The kind
// selects the on-disk output location and the shared-store key namespace.
type ResourceKind string

const (
	KindChannel ResourceKind = "channel"
	KindRelay   ResourceKind = "relay"
)

// Valid reports whether the kind is one of the known resource kinds.
func (k ResourceKind) Valid() bool {
	return k == KindChannel || k == KindRelay
}

// StreamKey identifies one live resource: a kind plus its numeric id.
type StreamKey struct {
	Kind ResourceKind `json:"kind"`
	ID   int64        `json:"id"`
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// OutputDir derives the on-disk artifact directory for a stream key.
// All kind-specific path logic lives here; callers never branch on kind.
func OutputDir(root string, key StreamKey) string {
	return filepath.Join(root, string(key.Kind), fmt.Sprintf("%d", key.ID))
}

// ManifestPath returns the manifest file inside a stream's output directory.
func ManifestPath(root string, key StreamKey) string {
	return filepath.Join(OutputDir(root, key), "index.m3u8")
}

// SourceHealth is the health status of a stream source. Forward transitions
// (→ problematic) belong to the health monitor; backward transitions
// (problematic → recovered) belong to the recovery sweeper. No other writer.
type SourceHealth string

const (
	HealthActive      SourceHealth = "active"
	HealthProblematic SourceHealth = "problematic"
	HealthRecovered   SourceHealth = "recovered"
)

// Channel is a logical channel as configured externally. Read-only here.
type Channel struct {
	ID        int64
	Name      string
	SourceURL string // optional direct source; may be empty
}

// StreamSource is one upstream candidate for a channel.
// Lower Priority means higher precedence.
type StreamSource struct {
	ID        int64
	ChannelID int64
	URL       string
	Priority  int
	Enabled   bool

	Health        SourceHealth
	FailureCount  int
	StallCount    int
	LastCheckedAt time.Time
	LastErrorAt   time.Time
}

// StreamSession is one viewer-facing live instance.
type StreamSession struct {
	ID             string    `json:"id"`
	Key            StreamKey `json:"key"`
	ChannelID      int64     `json:"channelId"`
	ActiveSourceID int64     `json:"activeSourceId"`
	ProfileID      int64     `json:"profileId,omitempty"`
	PID            int       `json:"pid"`
	LastSegment    int64     `json:"lastSegment"` // last observed terminal segment index
	LastSegmentAt  time.Time `json:"lastSegmentAt"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Terminal       bool      `json:"terminal"` // unavailable; no further monitoring
}

// SubscriptionProfile limits concurrent streams for an owning account.
// MaxConcurrent == 0 means unlimited.
type SubscriptionProfile struct {
	ID            int64
	AccountID     int64
	MaxConcurrent int
	Active        bool
}

// Unlimited reports whether the profile has no concurrency cap.
func (p SubscriptionProfile) Unlimited() bool {
	return p.MaxConcurrent <= 0
}
