// SPDX-License-Identifier: MIT

// Package supervisor spawns, tracks and terminates the external transcoder
// processes. Control is via the process's error stream and the OS only:
// stdin and stdout are closed right after spawn.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/procgroup"
	"github.com/streamwarden/streamwarden/internal/store"
)

// Supervisor is the process-lifecycle surface the orchestration layers
// depend on.
type Supervisor interface {
	// Start launches the transcoder for a stream and returns its pid.
	Start(ctx context.Context, key model.StreamKey, inputURL string) (int, error)
	// IsAlive reports whether a registered, OS-alive process with the
	// expected binary identity exists for the key.
	IsAlive(ctx context.Context, key model.StreamKey) (bool, error)
	// Stop terminates the process for a key and cleans up its registry
	// entries and on-disk artifacts. Idempotent. Reports whether a process
	// was actually running.
	Stop(ctx context.Context, key model.StreamKey) (bool, error)
	// DiagnosticTail returns the most recent error-stream lines for a key.
	DiagnosticTail(key model.StreamKey) []string
}

const stopPollInterval = 100 * time.Millisecond

// FFmpeg supervises ffmpeg processes writing segmented HLS output.
type FFmpeg struct {
	BinPath   string
	HLSRoot   string
	UserAgent string
	// Template overrides the built-in transcode arguments. Whitespace
	// separated; %INPUT% and %OUTPUT% are substituted. Opaque to the core.
	Template  string
	Store     store.StateStore
	Logger    zerolog.Logger
	StopGrace time.Duration

	mu    sync.Mutex
	procs map[string]*managedProc
}

type managedProc struct {
	cmd  *exec.Cmd
	tail *tail
	done chan struct{}
}

// NewFFmpeg builds a supervisor.
func NewFFmpeg(binPath, hlsRoot, userAgent, template string, st store.StateStore, logger zerolog.Logger, stopGrace time.Duration) *FFmpeg {
	if stopGrace <= 0 {
		stopGrace = 3 * time.Second
	}
	return &FFmpeg{
		BinPath:   binPath,
		HLSRoot:   hlsRoot,
		UserAgent: userAgent,
		Template:  template,
		Store:     st,
		Logger:    logger,
		StopGrace: stopGrace,
		procs:     make(map[string]*managedProc),
	}
}

func (f *FFmpeg) buildArgs(inputURL, manifestPath string) []string {
	if f.Template != "" {
		fields := strings.Fields(f.Template)
		args := make([]string, 0, len(fields))
		for _, fld := range fields {
			switch fld {
			case "%INPUT%":
				args = append(args, inputURL)
			case "%OUTPUT%":
				args = append(args, manifestPath)
			default:
				args = append(args, fld)
			}
		}
		return args
	}

	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin"}
	if f.UserAgent != "" && (strings.HasPrefix(inputURL, "http://") || strings.HasPrefix(inputURL, "https://")) {
		args = append(args,
			"-user_agent", f.UserAgent,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	args = append(args,
		"-i", inputURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+append_list",
	)
	return append(args, manifestPath)
}

// Start spawns the transcoder in its own process group, registers its pid
// and drains its error stream for the process's lifetime. The drain
// goroutine owns the process handle and is guaranteed to reap it on every
// exit path.
func (f *FFmpeg) Start(ctx context.Context, key model.StreamKey, inputURL string) (int, error) {
	outputDir := model.OutputDir(f.HLSRoot, key)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	args := f.buildArgs(inputURL, model.ManifestPath(f.HLSRoot, key))
	cmd := exec.Command(f.BinPath, args...) // #nosec G204
	cmd.Stdin = nil
	cmd.Stdout = nil
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("transcoder start failed: %w", err)
	}
	pid := cmd.Process.Pid
	metrics.ActiveProcesses.Inc()

	mp := &managedProc{cmd: cmd, tail: newTail(50), done: make(chan struct{})}
	f.mu.Lock()
	f.procs[key.String()] = mp
	f.mu.Unlock()

	logger := f.Logger.With().Str("stream", key.String()).Int("pid", pid).Logger()
	go f.drain(mp, stderr, logger)

	if err := f.Store.RegisterPID(ctx, key, pid); err != nil {
		logger.Error().Err(err).Msg("failed to register pid, killing fresh process")
		_ = procgroup.Signal(pid, true)
		<-mp.done
		f.forget(key)
		return 0, fmt.Errorf("register pid: %w", err)
	}
	if err := f.Store.AddActive(ctx, key); err != nil {
		logger.Warn().Err(err).Msg("failed to add active id")
	}

	logger.Info().Str("input", inputURL).Msg("started transcoder process")
	return pid, nil
}

// drain consumes the error stream line by line and then reaps the process.
// It runs to completion on normal exit, crash and daemon shutdown alike.
func (f *FFmpeg) drain(mp *managedProc, stderr io.Reader, logger zerolog.Logger) {
	defer close(mp.done)
	defer metrics.ActiveProcesses.Dec()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		mp.tail.append(line)
		logger.Debug().Str("stderr", line).Msg("transcoder output")
	}

	err := mp.cmd.Wait()
	if err != nil {
		logger.Info().Err(err).Msg("transcoder process exited")
	} else {
		logger.Info().Msg("transcoder process exited cleanly")
	}
}

func (f *FFmpeg) forget(key model.StreamKey) *managedProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	mp := f.procs[key.String()]
	delete(f.procs, key.String())
	return mp
}

func (f *FFmpeg) lookup(key model.StreamKey) *managedProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[key.String()]
}

// IsAlive requires a registered pid, an OS-alive process and a matching
// binary identity. The identity check defends against pid reuse after an
// unrelated process takes the number.
func (f *FFmpeg) IsAlive(ctx context.Context, key model.StreamKey) (bool, error) {
	pid, ok, err := f.Store.GetPID(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return processMatches(ctx, pid, f.BinPath), nil
}

// Stop terminates the registered process: graceful signal, bounded polls,
// force-kill. Registry entries, diagnostics and output artifacts are
// cleared unconditionally, so calling Stop on an already-stopped key still
// cleans up dangling state.
func (f *FFmpeg) Stop(ctx context.Context, key model.StreamKey) (bool, error) {
	pid, registered, err := f.Store.GetPID(ctx, key)
	if err != nil {
		return false, err
	}

	wasRunning := false
	if registered && processMatches(ctx, pid, f.BinPath) {
		wasRunning = true
		if mp := f.lookup(key); mp != nil {
			f.stopChild(pid, mp)
		} else {
			// Inherited from a previous daemon run: no wait handle, observe
			// exit by polling.
			f.stopOrphan(ctx, pid)
		}
	}

	f.cleanup(ctx, key)

	f.Logger.Info().
		Str("stream", key.String()).
		Bool("was_running", wasRunning).
		Msg("stopped stream")
	return wasRunning, nil
}

func (f *FFmpeg) stopChild(pid int, mp *managedProc) {
	_ = procgroup.Signal(pid, false)

	deadline := time.After(f.StopGrace)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mp.done:
			return
		case <-deadline:
			_ = procgroup.Signal(pid, true)
			<-mp.done
			return
		case <-ticker.C:
		}
	}
}

func (f *FFmpeg) stopOrphan(ctx context.Context, pid int) {
	_ = procgroup.Signal(pid, false)

	deadline := time.Now().Add(f.StopGrace)
	for time.Now().Before(deadline) {
		if !processMatches(ctx, pid, f.BinPath) {
			return
		}
		time.Sleep(stopPollInterval)
	}
	_ = procgroup.Signal(pid, true)
}

func (f *FFmpeg) cleanup(ctx context.Context, key model.StreamKey) {
	if mp := f.forget(key); mp != nil {
		mp.tail.reset()
	}
	if err := f.Store.ClearPID(ctx, key); err != nil {
		f.Logger.Warn().Err(err).Str("stream", key.String()).Msg("failed to clear pid registration")
	}
	if err := f.Store.RemoveActive(ctx, key); err != nil {
		f.Logger.Warn().Err(err).Str("stream", key.String()).Msg("failed to clear active id")
	}
	outputDir := model.OutputDir(f.HLSRoot, key)
	if err := os.RemoveAll(outputDir); err != nil {
		f.Logger.Error().Err(err).Str("path", outputDir).Msg("failed to remove output directory")
	}
}

// DiagnosticTail returns a copy of the recent error-stream lines.
func (f *FFmpeg) DiagnosticTail(key model.StreamKey) []string {
	mp := f.lookup(key)
	if mp == nil {
		return nil
	}
	return mp.tail.lines()
}

// StopAll terminates every locally supervised process. Used on daemon
// shutdown.
func (f *FFmpeg) StopAll(ctx context.Context) {
	f.mu.Lock()
	keys := make([]string, 0, len(f.procs))
	for k := range f.procs {
		keys = append(keys, k)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		key, err := parseKey(k)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(key model.StreamKey) {
			defer wg.Done()
			_, _ = f.Stop(ctx, key)
		}(key)
	}
	wg.Wait()
}

func parseKey(s string) (model.StreamKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return model.StreamKey{}, fmt.Errorf("malformed stream key: %s", s)
	}
	var id int64
	if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
		return model.StreamKey{}, err
	}
	return model.StreamKey{Kind: model.ResourceKind(parts[0]), ID: id}, nil
}
