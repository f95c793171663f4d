// SPDX-License-Identifier: MIT

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/model"
)

func TestRedisNotifierPublishesSwitched(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, ChannelStreamSwitched)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, zerolog.Nop())
	n.StreamSwitched(ctx, SwitchedEvent{
		ChannelID:      12,
		SessionID:      "s-34",
		NewSourceID:    56,
		NewManifestURL: "/hls/channel/12/index.m3u8",
	})

	select {
	case msg := <-sub.Channel():
		var ev SwitchedEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, int64(12), ev.ChannelID)
		assert.Equal(t, int64(56), ev.NewSourceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisNotifierPublishesUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, ChannelStreamUnavailable)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, zerolog.Nop())
	n.StreamUnavailable(ctx, UnavailableEvent{
		ChannelID:    12,
		ResourceKind: model.KindChannel,
		Message:      "all sources failed",
	})

	select {
	case msg := <-sub.Channel():
		var ev UnavailableEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, model.KindChannel, ev.ResourceKind)
		assert.Equal(t, "all sources failed", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestLogNotifierDoesNotPanic(t *testing.T) {
	n := LogNotifier{Logger: zerolog.Nop()}
	n.StreamSwitched(context.Background(), SwitchedEvent{})
	n.StreamUnavailable(context.Background(), UnavailableEvent{})
}
