// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment into a
// single validated snapshot.
package config

import (
	"fmt"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBPath string // sqlite catalog

	FFmpegPath  string
	FFprobePath string
	HLSRoot     string
	UserAgent   string

	// Transcoder argument template, opaque to the core. %INPUT% and %OUTPUT%
	// are substituted by the supervisor.
	TranscodeArgs string

	ProbeTimeout    time.Duration // pre-flight metadata probe bound
	ProbeCacheTTL   time.Duration // probe-details retention
	LockTTL         time.Duration // startup mutex bound
	BadSourceTTL    time.Duration // cooldown for failed candidates
	StopGrace       time.Duration // SIGTERM → SIGKILL window
	StallWindow     time.Duration // manifest progress deadline
	MonitorInterval time.Duration // per-session health check cadence
	MonitorLockTTL  time.Duration // per-session uniqueness guard bound
	SweeperSpec     string        // cron spec for source revalidation
	SweeperEnabled  bool          // disable to run without background revalidation
	SweepCooldown   time.Duration // minimum age before a source is rechecked

	APIRateLimit int // requests per minute per client IP, 0 disables
}

// FromEnv builds the configuration from environment variables with defaults.
func FromEnv() Config {
	return Config{
		ListenAddr: ParseString("SW_LISTEN", ":8085"),

		RedisAddr:     ParseString("SW_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: ParseString("SW_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("SW_REDIS_DB", 0),

		DBPath: ParseString("SW_DB_PATH", "streamwarden.db"),

		FFmpegPath:    ParseString("SW_FFMPEG", "ffmpeg"),
		FFprobePath:   ParseString("SW_FFPROBE", "ffprobe"),
		HLSRoot:       ParseString("SW_HLS_ROOT", "/var/lib/streamwarden/hls"),
		UserAgent:     ParseString("SW_USER_AGENT", "streamwarden/1.0"),
		TranscodeArgs: ParseString("SW_TRANSCODE_ARGS", ""),

		ProbeTimeout:    ParseDuration("SW_PROBE_TIMEOUT", 5*time.Second),
		ProbeCacheTTL:   ParseDuration("SW_PROBE_CACHE_TTL", 24*time.Hour),
		LockTTL:         ParseDuration("SW_LOCK_TTL", 60*time.Second),
		BadSourceTTL:    ParseDuration("SW_BAD_SOURCE_TTL", 5*time.Minute),
		StopGrace:       ParseDuration("SW_STOP_GRACE", 3*time.Second),
		StallWindow:     ParseDuration("SW_STALL_WINDOW", 30*time.Second),
		MonitorInterval: ParseDuration("SW_MONITOR_INTERVAL", 10*time.Second),
		MonitorLockTTL:  ParseDuration("SW_MONITOR_LOCK_TTL", 30*time.Second),
		SweeperSpec:     ParseString("SW_SWEEPER_SPEC", "@every 2m"),
		SweeperEnabled:  ParseBool("SW_SWEEPER_ENABLED", true),
		SweepCooldown:   ParseDuration("SW_SWEEP_COOLDOWN", 5*time.Minute),

		APIRateLimit: ParseInt("SW_API_RATE_LIMIT", 120),
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis address must be set")
	}
	if c.HLSRoot == "" {
		return fmt.Errorf("HLS root must be set")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be > 0, got %v", c.ProbeTimeout)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be > 0, got %v", c.LockTTL)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("stop grace must be > 0, got %v", c.StopGrace)
	}
	if c.StallWindow <= 0 {
		return fmt.Errorf("stall window must be > 0, got %v", c.StallWindow)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be > 0, got %v", c.MonitorInterval)
	}
	if c.MonitorLockTTL < c.MonitorInterval {
		return fmt.Errorf("monitor lock TTL %v must cover the monitor interval %v", c.MonitorLockTTL, c.MonitorInterval)
	}
	if c.SweeperEnabled && c.SweeperSpec == "" {
		return fmt.Errorf("sweeper spec must be set")
	}
	return nil
}
