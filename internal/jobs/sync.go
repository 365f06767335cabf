// SPDX-License-Identifier: GPL-3.0-or-later

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bitergia/sortinghat-openinfra/internal/cache"
	"github.com/bitergia/sortinghat-openinfra/internal/export"
	"github.com/bitergia/sortinghat-openinfra/internal/identity"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
	"github.com/bitergia/sortinghat-openinfra/internal/metrics"
	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/store"
	"github.com/bitergia/sortinghat-openinfra/internal/telemetry"
)

// Syncer runs synchronization cycles against a fixed set of
// dependencies. It is safe for use by a single goroutine at a time; the
// daemon serializes runs.
type Syncer struct {
	fetcher  Fetcher
	backend  Backend
	archiver Archiver
	store    CheckpointStore
	cache    cache.Cache

	// exportFn is swapped out in tests.
	exportFn func(individuals []identity.Individual) (string, error)
	clock    func() time.Time
}

// Deps bundles the dependencies of a Syncer.
type Deps struct {
	Fetcher  Fetcher
	Backend  Backend
	Archiver Archiver
	Store    CheckpointStore
	Cache    cache.Cache
	// DataDir receives the individuals snapshot after each run.
	DataDir string
}

// NewSyncer creates a Syncer. A nil Cache disables fingerprint
// short-circuiting.
func NewSyncer(deps Deps) *Syncer {
	c := deps.Cache
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Syncer{
		fetcher:  deps.Fetcher,
		backend:  deps.Backend,
		archiver: deps.Archiver,
		store:    deps.Store,
		cache:    c,
		exportFn: func(individuals []identity.Individual) (string, error) {
			return export.Write(deps.DataDir, individuals)
		},
		clock: time.Now,
	}
}

// Run executes one synchronization cycle: fetch changed members since
// the checkpoint, archive them, parse them into individuals and import
// those into SortingHat. The checkpoint only advances when every
// individual imported cleanly, so a partial failure is retried on the
// next cycle.
func (s *Syncer) Run(ctx context.Context, cfg Config) (*Status, error) {
	runID := log.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = log.ContextWithRunID(ctx, runID)
	}
	logger := log.WithComponentFromContext(ctx, "jobs")

	ctx, span := telemetry.Tracer("jobs").Start(ctx, "sync.run")
	defer span.End()

	status := &Status{RunID: runID, StartedAt: s.clock()}
	defer func() {
		status.FinishedAt = s.clock()
		metrics.RecordSyncDuration(status.FinishedAt.Sub(status.StartedAt))
		s.recordRun(ctx, status)
	}()

	since, err := s.resolveSince(ctx, cfg)
	if err != nil {
		return s.fail(span, status, "checkpoint", err)
	}

	ev := logger.Info().Str("event", "sync.start")
	if since != nil {
		ev = ev.Time("since", *since)
	}
	ev.Msg("starting sync")

	members, stats, err := s.fetcher.FetchMembers(ctx, since)
	if err != nil {
		metrics.IncFetchError()
		return s.fail(span, status, "fetch", err)
	}
	status.Pages = stats.Pages
	status.Members = stats.Members
	metrics.RecordMembersCount(stats.Members)
	metrics.AddPagesFetched(stats.Pages)

	if len(members) == 0 {
		logger.Info().Str("event", "sync.no_changes").Msg("no members changed since checkpoint")
		span.SetAttributes(telemetry.SyncAttributes(status.Pages, 0, 0, 0, 0)...)
		metrics.RecordLastSync(s.clock())
		return status, nil
	}

	if s.archiver != nil {
		if err := s.archiver.SaveMembers(ctx, members); err != nil {
			return s.fail(span, status, "archive", err)
		}
	}

	s.importMembers(ctx, cfg, members, status)

	metrics.RecordParsed(status.Individuals, status.Skipped)
	span.SetAttributes(telemetry.SyncAttributes(
		status.Pages, status.Members, status.Individuals, status.Imported, status.Failed)...)

	if err := s.advanceCheckpoint(ctx, members, status); err != nil {
		return s.fail(span, status, "checkpoint", err)
	}

	metrics.RecordLastSync(s.clock())
	logger.Info().
		Str("event", "sync.success").
		Int("members", status.Members).
		Int("individuals", status.Individuals).
		Int("imported", status.Imported).
		Int("unchanged", status.Unchanged).
		Int("skipped", status.Skipped).
		Int("failed", status.Failed).
		Msg("sync completed")
	return status, nil
}

// importMembers parses and imports members with a bounded worker pool.
// Import failures are counted, not fatal: one broken record must not
// abort the run.
func (s *Syncer) importMembers(ctx context.Context, cfg Config, members []openinfra.Member, status *Status) {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var exported []identity.Individual

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, m := range members {
		g.Go(func() error {
			outcome := s.importMember(ctx, cfg, m)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case outcomeSkipped:
				status.Skipped++
			case outcomeUnchanged:
				status.Individuals++
				status.Unchanged++
			case outcomeFailed:
				status.Individuals++
				status.Failed++
			default:
				status.Individuals++
				status.Imported++
				exported = append(exported, outcome.individual)
			}
			return nil
		})
	}
	// Workers never return errors; Wait only observes ctx cancellation.
	_ = g.Wait()

	if len(exported) > 0 {
		logger := log.WithComponentFromContext(ctx, "jobs")
		if path, err := s.exportFn(exported); err != nil {
			logger.Warn().
				Err(err).
				Str("event", "export.failed").
				Msg("failed to write individuals snapshot")
		} else {
			logger.Info().
				Str("event", "export.written").
				Str("path", path).
				Int("individuals", len(exported)).
				Msg("individuals snapshot written")
		}
	}
}

// resolveSince picks the incremental-fetch lower bound: an explicit
// from-date override wins, otherwise the stored checkpoint. Nil means a
// full fetch.
func (s *Syncer) resolveSince(ctx context.Context, cfg Config) (*time.Time, error) {
	if cfg.FromDate != nil {
		return cfg.FromDate, nil
	}
	ts, ok, err := s.store.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

// advanceCheckpoint moves the checkpoint to the newest last_edited seen,
// but only when every import succeeded. Failed members stay behind the
// checkpoint and are retried on the next run.
func (s *Syncer) advanceCheckpoint(ctx context.Context, members []openinfra.Member, status *Status) error {
	logger := log.WithComponentFromContext(ctx, "jobs")
	if status.Failed > 0 {
		logger.Warn().
			Str("event", "checkpoint.held").
			Int("failed", status.Failed).
			Msg("checkpoint not advanced due to import failures")
		return nil
	}

	var maxEdited int64
	for _, m := range members {
		if m.LastEdited > maxEdited {
			maxEdited = m.LastEdited
		}
	}
	if maxEdited == 0 {
		return nil
	}

	ts := time.Unix(maxEdited, 0).UTC()
	if err := s.store.SetCheckpoint(ctx, ts); err != nil {
		return err
	}
	status.Checkpoint = ts
	metrics.RecordCheckpoint(ts)

	logger.Info().
		Str("event", "checkpoint.advanced").
		Time("checkpoint", ts).
		Msg("checkpoint advanced")
	return nil
}

func (s *Syncer) fail(span trace.Span, status *Status, stage string, err error) (*Status, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	metrics.IncSyncFailure(stage)
	status.Error = err.Error()
	return status, err
}

func (s *Syncer) recordRun(ctx context.Context, status *Status) {
	if s.store == nil {
		return
	}
	rec := &store.RunRecord{
		ID:          status.RunID,
		StartedAt:   status.StartedAt,
		FinishedAt:  status.FinishedAt,
		Pages:       status.Pages,
		Members:     status.Members,
		Individuals: status.Individuals,
		Imported:    status.Imported,
		Skipped:     status.Skipped,
		Failed:      status.Failed,
		Error:       status.Error,
	}
	if err := s.store.PutRun(ctx, rec); err != nil {
		logger := log.WithComponentFromContext(ctx, "jobs")
		logger.Warn().
			Err(err).
			Str("event", "run.record_failed").
			Msg("failed to persist run record")
	}
}
