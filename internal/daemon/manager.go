// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bitergia/sortinghat-openinfra/internal/config"
	"github.com/bitergia/sortinghat-openinfra/internal/jobs"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 15 * time.Second
)

// Manager owns the daemon lifecycle: the management HTTP server, the
// optional metrics server, the sync scheduler and config reloading.
type Manager struct {
	holder     *config.ConfigHolder
	runner     *Runner
	apiHandler http.Handler
	logger     zerolog.Logger

	// InitialSync runs one cycle at startup before the first tick.
	InitialSync bool
}

// NewManager creates a Manager.
func NewManager(holder *config.ConfigHolder, runner *Runner, apiHandler http.Handler) *Manager {
	return &Manager{
		holder:      holder,
		runner:      runner,
		apiHandler:  apiHandler,
		logger:      log.WithComponent("daemon"),
		InitialSync: true,
	}
}

// Run starts every subsystem and blocks until ctx is cancelled or a
// server fails.
func (m *Manager) Run(ctx context.Context) error {
	cfg := m.holder.Get()

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: a broken watcher must not prevent
	// startup.
	if err := m.holder.StartWatcher(ctx); err != nil {
		m.logger.Warn().
			Err(err).
			Str("event", "config.watcher_start_failed").
			Msg("failed to start config watcher")
	}

	g.Go(func() error { return m.reloadOnSIGHUP(ctx) })
	g.Go(func() error { return m.schedule(ctx) })
	g.Go(func() error { return m.serveAPI(ctx, cfg.API.ListenAddr) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return m.serveMetrics(ctx, cfg.Metrics.ListenAddr) })
	}

	err := g.Wait()
	m.runner.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// schedule runs a sync every configured interval. The interval is
// re-read after each run so config reloads take effect without a
// restart.
func (m *Manager) schedule(ctx context.Context) error {
	if m.InitialSync {
		m.runScheduled(ctx)
	}

	for {
		interval := m.holder.Get().Sync.Interval
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			m.runScheduled(ctx)
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context) {
	status, err := m.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, jobs.ErrSyncInProgress):
		m.logger.Info().
			Str("event", "schedule.skipped").
			Msg("scheduled sync skipped, another run is active")
	case err != nil:
		m.logger.Error().
			Err(err).
			Str("event", "schedule.failed").
			Msg("scheduled sync failed")
	default:
		m.logger.Info().
			Str("event", "schedule.completed").
			Str(log.FieldRunID, status.RunID).
			Msg("scheduled sync completed")
	}
}

// reloadOnSIGHUP reloads the configuration when the process receives
// SIGHUP.
func (m *Manager) reloadOnSIGHUP(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
			m.logger.Info().
				Str("event", "config.reload_signal").
				Msg("received SIGHUP, reloading config")
			if err := m.holder.Reload(ctx); err != nil {
				m.logger.Warn().
					Err(err).
					Str("event", "config.reload_failed").
					Msg("config reload failed")
			}
		}
	}
}

func (m *Manager) serveAPI(ctx context.Context, addr string) error {
	handler := otelhttp.NewHandler(m.apiHandler, "api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout / 2,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return m.serve(ctx, srv, "api")
}

func (m *Manager) serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: readTimeout / 2,
	}
	return m.serve(ctx, srv, "metrics")
}

// serve runs one HTTP server until ctx is cancelled, then shuts it down
// with a bounded grace period.
func (m *Manager) serve(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		m.logger.Info().
			Str("event", name+".server_listening").
			Str("addr", srv.Addr).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", name+".shutdown_failed").
				Msg("server shutdown failed")
			return err
		}
		m.logger.Info().
			Str("event", name+".server_stopped").
			Msg("server stopped")
		return ctx.Err()
	}
}
