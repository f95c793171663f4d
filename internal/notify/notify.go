// SPDX-License-Identifier: MIT

// Package notify publishes stream lifecycle events so player-facing
// services can react to failovers and terminal failures.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/model"
)

// Channel names on the event bus.
const (
	ChannelStreamSwitched    = "stream-switched"
	ChannelStreamUnavailable = "stream-unavailable"
)

// SwitchedEvent is emitted after a successful failover, pointing consumers
// at the new source. The manifest URL stays stable across switches but is
// included so late joiners need no extra lookup.
type SwitchedEvent struct {
	ChannelID      int64  `json:"channelId"`
	SessionID      string `json:"sessionId"`
	NewSourceID    int64  `json:"newSourceId"`
	NewManifestURL string `json:"newManifestUrl"`
}

// UnavailableEvent is emitted when every candidate source for a stream is
// exhausted and the session has been terminated.
type UnavailableEvent struct {
	ChannelID    int64              `json:"channelId"`
	ResourceKind model.ResourceKind `json:"resourceKind"`
	Message      string             `json:"message"`
	AccountID    int64              `json:"accountId,omitempty"`
}

// Notifier delivers lifecycle events. Delivery is best effort; the
// orchestration outcome never depends on it.
type Notifier interface {
	StreamSwitched(ctx context.Context, ev SwitchedEvent)
	StreamUnavailable(ctx context.Context, ev UnavailableEvent)
}

// RedisNotifier publishes events as JSON on Redis pub/sub channels.
type RedisNotifier struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisNotifier builds a notifier on an existing client.
func NewRedisNotifier(client *redis.Client, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error().Err(err).Str("channel", channel).Msg("failed to encode event")
		return
	}
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		n.logger.Warn().Err(err).Str("channel", channel).Msg("failed to publish event")
		return
	}
	n.logger.Debug().Str("channel", channel).RawJSON("event", payload).Msg("published event")
}

func (n *RedisNotifier) StreamSwitched(ctx context.Context, ev SwitchedEvent) {
	n.publish(ctx, ChannelStreamSwitched, ev)
}

func (n *RedisNotifier) StreamUnavailable(ctx context.Context, ev UnavailableEvent) {
	n.publish(ctx, ChannelStreamUnavailable, ev)
}

// LogNotifier records events to the log only. Used when no event bus is
// configured and in tests.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) StreamSwitched(_ context.Context, ev SwitchedEvent) {
	n.Logger.Info().
		Int64("channel_id", ev.ChannelID).
		Str("session_id", ev.SessionID).
		Int64("new_source_id", ev.NewSourceID).
		Msg("stream switched")
}

func (n LogNotifier) StreamUnavailable(_ context.Context, ev UnavailableEvent) {
	n.Logger.Warn().
		Int64("channel_id", ev.ChannelID).
		Str("resource_kind", string(ev.ResourceKind)).
		Str("message", ev.Message).
		Msg("stream unavailable")
}
