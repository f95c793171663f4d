// SPDX-License-Identifier: MIT

// Package catalog persists the durable data model: channels, stream sources,
// subscription profiles and stream sessions. Channels and profiles are
// written by external configuration management and read-only to the core.
// Source health fields are mutated only through MarkSourceProblem (forward)
// and MarkSourceRecovered (backward).
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/streamwarden/streamwarden/internal/model"
)

var ErrNotFound = errors.New("catalog: not found")

// ProblemKind distinguishes the two forward health transitions.
type ProblemKind string

const (
	ProblemFailure ProblemKind = "failure"
	ProblemStall   ProblemKind = "stall"
)

// Catalog is the durable store surface the core depends on.
type Catalog interface {
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	SourcesForChannel(ctx context.Context, channelID int64) ([]model.StreamSource, error)
	GetSource(ctx context.Context, id int64) (*model.StreamSource, error)
	GetProfile(ctx context.Context, id int64) (*model.SubscriptionProfile, error)

	CreateSession(ctx context.Context, s *model.StreamSession) error
	GetSession(ctx context.Context, id string) (*model.StreamSession, error)
	ListActiveSessions(ctx context.Context) ([]model.StreamSession, error)
	SetSessionSource(ctx context.Context, id string, sourceID int64, pid int) error
	TouchSessionSegment(ctx context.Context, id string, segment int64, at time.Time) error
	MarkSessionTerminal(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error

	// Health transitions. MarkSourceProblem moves active/recovered →
	// problematic and bumps the matching counter. MarkSourceRecovered is the
	// only backward path and resets both counters.
	MarkSourceProblem(ctx context.Context, sourceID int64, kind ProblemKind, at time.Time) error
	MarkSourceRecovered(ctx context.Context, sourceID int64, at time.Time) error
	TouchSourceChecked(ctx context.Context, sourceID int64, at time.Time) error
	ProblematicSources(ctx context.Context, checkedBefore time.Time) ([]model.StreamSource, error)

	Close() error
}
