// SPDX-License-Identifier: MIT

// Package probe runs the bounded-duration metadata pre-flight against a
// candidate URL before a full transcode is committed. Probe failures are all
// mapped to ErrSourceNotResponding; retries happen only across distinct
// candidates at the coordinator level, never in here.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrSourceNotResponding marks a probe timeout, non-zero exit or unparsable
// output. Recoverable by trying the next candidate.
var ErrSourceNotResponding = errors.New("source not responding")

// Details is the structured stream metadata kept for diagnostic display.
type Details struct {
	Container     string `json:"container,omitempty"`
	VideoCodec    string `json:"video_codec,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	AudioCodec    string `json:"audio_codec,omitempty"`
	AudioChannels int    `json:"audio_channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	ProbedAt      int64  `json:"probed_at"`
}

// Runner executes one metadata probe. The orchestration layers depend on
// this interface so tests can inject deterministic fakes.
type Runner interface {
	Probe(ctx context.Context, url string) (*Details, error)
}

// FFprobe is the production Runner backed by the ffprobe binary.
type FFprobe struct {
	Path      string
	UserAgent string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// ffprobe JSON output, reduced to the fields we read.
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType     string `json:"codec_type"`
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		Channels      int    `json:"channels"`
		ChannelLayout string `json:"channel_layout"`
	} `json:"streams"`
}

// Probe runs one bounded ffprobe invocation against the URL.
func (p *FFprobe) Probe(ctx context.Context, url string) (*Details, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
	}
	if p.UserAgent != "" && (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		args = append(args, "-user_agent", p.UserAgent,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
		)
	}
	args = append(args, url)

	started := time.Now()
	cmd := exec.CommandContext(ctx, p.Path, args...) // #nosec G204
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: probe timeout after %v", ErrSourceNotResponding, timeout)
		}
		return nil, fmt.Errorf("%w: ffprobe failed: %v", ErrSourceNotResponding, err)
	}

	details, err := parse(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceNotResponding, err)
	}

	p.Logger.Debug().
		Str("url", url).
		Str("video", details.VideoCodec).
		Str("audio", details.AudioCodec).
		Int64("elapsed_ms", time.Since(started).Milliseconds()).
		Msg("probe ok")
	return details, nil
}

func parse(output []byte) (*Details, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("unparsable ffprobe output: %v", err)
	}
	if len(result.Streams) == 0 {
		return nil, errors.New("no streams in probe output")
	}

	d := &Details{
		Container: result.Format.FormatName,
		ProbedAt:  time.Now().Unix(),
	}
	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			if d.VideoCodec == "" {
				d.VideoCodec = s.CodecName
				d.Width = s.Width
				d.Height = s.Height
			}
		case "audio":
			if d.AudioCodec == "" {
				d.AudioCodec = s.CodecName
				d.AudioChannels = s.Channels
				d.ChannelLayout = s.ChannelLayout
			}
		}
	}
	if d.VideoCodec == "" && d.AudioCodec == "" {
		return nil, errors.New("no decodable video or audio stream")
	}
	return d, nil
}
