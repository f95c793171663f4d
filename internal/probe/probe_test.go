// SPDX-License-Identifier: MIT

package probe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/store"
)

const sampleOutput = `{
	"format": {"format_name": "mpegts"},
	"streams": [
		{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
		{"codec_type": "audio", "codec_name": "aac", "channels": 2, "channel_layout": "stereo"}
	]
}`

func TestParse(t *testing.T) {
	d, err := parse([]byte(sampleOutput))
	require.NoError(t, err)
	require.Equal(t, "mpegts", d.Container)
	require.Equal(t, "h264", d.VideoCodec)
	require.Equal(t, 1920, d.Width)
	require.Equal(t, 1080, d.Height)
	require.Equal(t, "aac", d.AudioCodec)
	require.Equal(t, 2, d.AudioChannels)
	require.Equal(t, "stereo", d.ChannelLayout)
}

func TestParseAudioOnly(t *testing.T) {
	d, err := parse([]byte(`{"format":{"format_name":"mp3"},"streams":[{"codec_type":"audio","codec_name":"mp3","channels":2}]}`))
	require.NoError(t, err)
	require.Empty(t, d.VideoCodec)
	require.Equal(t, "mp3", d.AudioCodec)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := parse([]byte("not json"))
	require.Error(t, err)

	_, err = parse([]byte(`{"format":{},"streams":[]}`))
	require.Error(t, err)

	_, err = parse([]byte(`{"format":{},"streams":[{"codec_type":"data"}]}`))
	require.Error(t, err)
}

func TestFFprobeUnknownBinaryIsNotResponding(t *testing.T) {
	p := &FFprobe{Path: "/nonexistent/ffprobe", Timeout: time.Second, Logger: zerolog.Nop()}
	_, err := p.Probe(context.Background(), "http://example.invalid/stream")
	require.ErrorIs(t, err, ErrSourceNotResponding)
}

type stubRunner struct {
	details *Details
	err     error
	calls   int
}

func (s *stubRunner) Probe(ctx context.Context, url string) (*Details, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.details, nil
}

func TestValidatorCachesOnSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())

	runner := &stubRunner{details: &Details{VideoCodec: "h264", Width: 1280, Height: 720}}
	v := &Validator{Runner: runner, Store: st, CacheTTL: time.Hour, Logger: zerolog.Nop()}
	key := model.StreamKey{Kind: model.KindChannel, ID: 9}

	d, err := v.Preflight(context.Background(), key, "http://up/stream")
	require.NoError(t, err)
	require.Equal(t, "h264", d.VideoCodec)

	cached, ok, err := v.CachedDetails(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1280, cached.Width)
}

func TestValidatorPropagatesFailureWithoutCaching(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())

	runner := &stubRunner{err: ErrSourceNotResponding}
	v := &Validator{Runner: runner, Store: st, Logger: zerolog.Nop()}
	key := model.StreamKey{Kind: model.KindChannel, ID: 9}

	_, err := v.Preflight(context.Background(), key, "http://up/stream")
	require.ErrorIs(t, err, ErrSourceNotResponding)
	require.Equal(t, 1, runner.calls) // no internal retry

	_, ok, err := v.CachedDetails(context.Background(), key)
	require.NoError(t, err)
	require.False(t, ok)
}
