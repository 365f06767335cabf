// SPDX-License-Identifier: GPL-3.0-or-later

// Command daemon runs the OpenInfraID to SortingHat importer: it
// periodically fetches member records from the OpenInfraID API, parses
// them into individuals and imports those into a SortingHat server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitergia/sortinghat-openinfra/internal/api"
	"github.com/bitergia/sortinghat-openinfra/internal/archive"
	"github.com/bitergia/sortinghat-openinfra/internal/cache"
	"github.com/bitergia/sortinghat-openinfra/internal/config"
	"github.com/bitergia/sortinghat-openinfra/internal/daemon"
	"github.com/bitergia/sortinghat-openinfra/internal/health"
	"github.com/bitergia/sortinghat-openinfra/internal/jobs"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/sortinghat"
	"github.com/bitergia/sortinghat-openinfra/internal/store"
	"github.com/bitergia/sortinghat-openinfra/internal/telemetry"
	"golang.org/x/time/rate"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	once := flag.Bool("once", false, "run a single sync and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sortinghat-openinfra %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Version: version})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting sortinghat-openinfra")
	logger.Info().Msgf("→ OpenInfraID: %s", cfg.OpenInfra.BaseURL)
	logger.Info().Msgf("→ SortingHat: %s", cfg.SortingHat.URL)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	if cfg.API.Token == "" {
		logger.Warn().Msg("→ API token: NOT configured, management routes are disabled")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data dir")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "sortinghat-openinfra",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	st, err := store.Open(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open state store")
	}
	defer st.Close()

	arch, err := archive.Open(filepath.Join(cfg.DataDir, "archive.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open member archive")
	}
	defer arch.Close()

	c := buildCache(cfg, logger)

	fetcher := openinfra.NewWithOptions(cfg.OpenInfra.BaseURL, openinfra.Options{
		Timeout:    time.Duration(cfg.OpenInfra.Timeout) * time.Second,
		MaxRetries: cfg.OpenInfra.Retries,
		Backoff:    time.Duration(cfg.OpenInfra.Backoff) * time.Millisecond,
		Token:      cfg.OpenInfra.Token,
		RateLimit:  rate.Limit(cfg.OpenInfra.RPS),
	})

	backend := sortinghat.New(cfg.SortingHat.URL, sortinghat.Options{
		Token:     cfg.SortingHat.Token,
		RateLimit: rate.Limit(cfg.SortingHat.RPS),
	})
	if cfg.SortingHat.Token == "" {
		if _, err := backend.TokenAuth(ctx, cfg.SortingHat.User, cfg.SortingHat.Password); err != nil {
			logger.Fatal().Err(err).Msg("failed to authenticate against SortingHat")
		}
		logger.Info().Str("event", "sortinghat.authenticated").Msg("obtained SortingHat token")
	}

	syncer := jobs.NewSyncer(jobs.Deps{
		Fetcher:  fetcher,
		Backend:  backend,
		Archiver: arch,
		Store:    st,
		Cache:    c,
		DataDir:  cfg.DataDir,
	})

	holder := config.NewConfigHolder(cfg, loader, *configPath)
	runner := daemon.NewRunner(ctx, syncer, func() jobs.Config {
		return jobConfig(holder.Get(), logger)
	})

	if *once {
		status, err := runner.RunOnce(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sync failed")
			os.Exit(1)
		}
		logger.Info().
			Int("imported", status.Imported).
			Int("skipped", status.Skipped).
			Int("failed", status.Failed).
			Msg("sync completed")
		return
	}

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewUpstreamChecker("openinfra", fetcher))
	hm.RegisterChecker(health.NewUpstreamChecker("sortinghat", backend))
	hm.RegisterChecker(health.NewLastSyncChecker(cfg.Sync.Interval, runner.LastSync))

	apiServer := api.New(api.Config{
		Runner:    runner,
		History:   st,
		Archive:   arch,
		Health:    hm,
		Cache:     c,
		DataDir:   cfg.DataDir,
		Token:     cfg.API.Token,
		RateLimit: cfg.API.RateLimit,
	})

	mgr := daemon.NewManager(holder, runner, apiServer.Router())
	if err := mgr.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("daemon exiting")
}

// buildCache selects the fingerprint cache backend: Redis when an
// address is configured, the in-memory cache otherwise.
func buildCache(cfg config.AppConfig, logger zerolog.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryCache(10 * time.Minute)
	}
	c, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log.WithComponent("cache"))
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "cache.redis_unavailable").
			Msg("falling back to in-memory cache")
		return cache.NewMemoryCache(10 * time.Minute)
	}
	return c
}

// jobConfig maps the app configuration to a run configuration.
func jobConfig(cfg config.AppConfig, logger zerolog.Logger) jobs.Config {
	jc := jobs.Config{
		Workers:  cfg.Sync.Workers,
		NoCache:  cfg.Sync.NoCache,
		CacheTTL: cfg.Sync.CacheTTL,
	}
	if cfg.Sync.FromDate != "" {
		from, err := config.ParseFromDate(cfg.Sync.FromDate)
		if err != nil {
			// Validation catches this at load time; a reload cannot
			// reintroduce it because reloads revalidate.
			logger.Warn().Err(err).Msg("ignoring invalid from date")
		} else {
			jc.FromDate = &from
		}
	}
	return jc
}
