// SPDX-License-Identifier: GPL-3.0-or-later

// Package api exposes the daemon's management HTTP surface: health and
// readiness probes, sync status and triggering, run history and the
// individuals snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bitergia/sortinghat-openinfra/internal/cache"
	"github.com/bitergia/sortinghat-openinfra/internal/export"
	"github.com/bitergia/sortinghat-openinfra/internal/health"
	"github.com/bitergia/sortinghat-openinfra/internal/identity"
	"github.com/bitergia/sortinghat-openinfra/internal/jobs"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/store"
)

// Runner triggers synchronization runs and reports on them.
type Runner interface {
	// Trigger starts a run in the background and returns its run ID.
	// jobs.ErrSyncInProgress is returned while another run is active.
	Trigger(ctx context.Context) (string, error)
	// Running reports whether a run is currently active.
	Running() bool
	// LastStatus returns the most recent run's status, nil before the
	// first run.
	LastStatus() *jobs.Status
}

// RunHistory reads past run records.
type RunHistory interface {
	// RecentRuns lists past runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]*store.RunRecord, error)
	// GetRun fetches one run by ID, nil when unknown.
	GetRun(ctx context.Context, id string) (*store.RunRecord, error)
}

// MemberArchive reads the raw member records stored during past runs.
type MemberArchive interface {
	Count(ctx context.Context) (int, error)
	Member(ctx context.Context, id int64) (*openinfra.Member, error)
	EachMember(ctx context.Context, fn func(openinfra.Member) error) error
}

// Server holds the handler dependencies.
type Server struct {
	runner  Runner
	history RunHistory
	archive MemberArchive
	healthz *health.Manager
	cache   cache.Cache
	dataDir string

	token     string
	rateLimit int
}

// Config configures the management server.
type Config struct {
	Runner  Runner
	History RunHistory
	Archive MemberArchive
	Health  *health.Manager
	Cache   cache.Cache
	DataDir string

	// Token guards /api/*; empty disables those routes.
	Token string
	// RateLimit is the per-minute request budget per client IP.
	RateLimit int
}

// New creates the management server.
func New(cfg Config) *Server {
	rl := cfg.RateLimit
	if rl < 1 {
		rl = 60
	}
	return &Server{
		runner:    cfg.Runner,
		history:   cfg.History,
		archive:   cfg.Archive,
		healthz:   cfg.Health,
		cache:     cfg.Cache,
		dataDir:   cfg.DataDir,
		token:     cfg.Token,
		rateLimit: rl,
	}
}

// Router builds the chi router: public probes plus token-guarded
// management routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog)

	r.Get("/healthz", s.healthz.ServeHealth)
	r.Get("/readyz", s.healthz.ServeReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(TokenAuth(s.token))
		r.Use(RateLimit(s.rateLimit, time.Minute))

		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
		r.Post("/sync", s.handleSync)
		r.Get("/members/{id}", s.handleMember)
		r.Get("/export", s.handleExport)
		r.Post("/export/rebuild", s.handleExportRebuild)
		r.Get("/cache", s.handleCache)
	})

	return r
}

type statusResponse struct {
	Running         bool         `json:"running"`
	ArchivedMembers int          `json:"archived_members"`
	Last            *jobs.Status `json:"last,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Running: s.runner.Running(),
		Last:    s.runner.LastStatus(),
	}
	if s.archive != nil {
		if n, err := s.archive.Count(r.Context()); err == nil {
			resp.ArchivedMembers = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.runs_failed").
			Msg("failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.history.GetRun(r.Context(), id)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.run_lookup_failed").
			Str(log.FieldRunID, id).
			Msg("failed to fetch run")
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleMember serves the raw upstream record archived during a past run.
func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "member id must be an integer")
		return
	}

	m, err := s.archive.Member(r.Context(), id)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.member_lookup_failed").
			Int64(log.FieldMemberID, id).
			Msg("failed to fetch archived member")
		writeError(w, http.StatusInternalServerError, "failed to fetch member")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "member not archived")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	runID, err := s.runner.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, jobs.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "a sync is already in progress")
			return
		}
		logger.Error().
			Err(err).
			Str("event", "api.sync_failed").
			Msg("failed to trigger sync")
		writeError(w, http.StatusInternalServerError, "failed to trigger sync")
		return
	}

	logger.Info().
		Str("event", "api.sync_triggered").
		Str(log.FieldRunID, runID).
		Msg("sync triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleExport serves the snapshot written after the last successful run.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.dataDir, export.SnapshotFilename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no export available yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open export")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	http.ServeContent(w, r, export.SnapshotFilename, time.Time{}, f)
}

// handleExportRebuild re-parses every archived member and rewrites the
// individuals snapshot without touching the upstream API.
func (s *Server) handleExportRebuild(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var individuals []identity.Individual
	err := s.archive.EachMember(r.Context(), func(m openinfra.Member) error {
		if ind, ok := openinfra.ParseMember(m); ok {
			individuals = append(individuals, ind)
		}
		return nil
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "api.rebuild_failed").
			Msg("failed to read archive")
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	if _, err := export.Write(s.dataDir, individuals); err != nil {
		logger.Error().
			Err(err).
			Str("event", "api.rebuild_failed").
			Msg("failed to write snapshot")
		writeError(w, http.StatusInternalServerError, "failed to write snapshot")
		return
	}

	logger.Info().
		Str("event", "api.export_rebuilt").
		Int("individuals", len(individuals)).
		Msg("individuals snapshot rebuilt from archive")
	writeJSON(w, http.StatusOK, map[string]int{"individuals": len(individuals)})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
