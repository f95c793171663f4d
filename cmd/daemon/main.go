// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/streamwarden/streamwarden/internal/admission"
	"github.com/streamwarden/streamwarden/internal/api"
	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/coordinator"
	swlog "github.com/streamwarden/streamwarden/internal/log"
	"github.com/streamwarden/streamwarden/internal/monitor"
	"github.com/streamwarden/streamwarden/internal/notify"
	"github.com/streamwarden/streamwarden/internal/probe"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
	"github.com/streamwarden/streamwarden/internal/sweeper"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	swlog.Configure(swlog.Config{
		Level:   config.ParseString("SW_LOG_LEVEL", "info"),
		Service: "streamwarden",
		Version: version,
	})
	logger := swlog.WithComponent("daemon")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	st, err := store.NewRedisStore(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, swlog.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("connect state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()

	if err := os.MkdirAll(cfg.HLSRoot, 0o755); err != nil {
		return fmt.Errorf("create HLS root: %w", err)
	}

	sup := supervisor.NewFFmpeg(
		cfg.FFmpegPath, cfg.HLSRoot, cfg.UserAgent, cfg.TranscodeArgs,
		st, swlog.WithComponent("supervisor"), cfg.StopGrace,
	)

	prober := &probe.FFprobe{
		Path:      cfg.FFprobePath,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.ProbeTimeout,
		Logger:    swlog.WithComponent("probe"),
	}
	validator := &probe.Validator{
		Runner:   prober,
		Store:    st,
		CacheTTL: cfg.ProbeCacheTTL,
		Logger:   swlog.WithComponent("probe"),
	}

	adm := &admission.Controller{Store: st}
	coord := &coordinator.Coordinator{
		Store:        st,
		Catalog:      cat,
		Validator:    validator,
		Supervisor:   sup,
		Admission:    adm,
		Logger:       swlog.WithComponent("coordinator"),
		LockTTL:      cfg.LockTTL,
		BadSourceTTL: cfg.BadSourceTTL,
	}

	notifier := notify.NewRedisNotifier(st.Client(), swlog.WithComponent("notify"))

	mon := &monitor.Monitor{
		Store:       st,
		Catalog:     cat,
		Supervisor:  sup,
		Coordinator: coord,
		Admission:   adm,
		Notifier:    notifier,
		Logger:      swlog.WithComponent("monitor"),
		HLSRoot:     cfg.HLSRoot,
		StallWindow: cfg.StallWindow,
		LockTTL:     cfg.MonitorLockTTL,
	}

	sw := &sweeper.Sweeper{
		Store:    st,
		Catalog:  cat,
		Prober:   prober,
		Logger:   swlog.WithComponent("sweeper"),
		HLSRoot:  cfg.HLSRoot,
		Cooldown: cfg.SweepCooldown,
		LockTTL:  cfg.MonitorLockTTL,
	}
	if cfg.SweeperEnabled {
		cronSched, err := sw.Schedule(cfg.SweeperSpec)
		if err != nil {
			return fmt.Errorf("schedule sweeper: %w", err)
		}
		defer cronSched.Stop()
	} else {
		sw.Logger.Warn().Msg("source revalidation sweeper disabled")
	}

	srv := &api.Server{
		Coordinator: coord,
		Catalog:     cat,
		Supervisor:  sup,
		Validator:   validator,
		Store:       st,
		Logger:      swlog.WithComponent("api"),
		RateLimit:   cfg.APIRateLimit,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runner := &monitor.Runner{Monitor: mon, Interval: cfg.MonitorInterval}
		return runner.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		sup.StopAll(shutdownCtx)
		return nil
	})

	return g.Wait()
}
