// SPDX-License-Identifier: GPL-3.0-or-later

// Package daemon owns the long-lived runtime: the serialized sync
// runner, the periodic scheduler and the HTTP servers.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitergia/sortinghat-openinfra/internal/jobs"
	"github.com/bitergia/sortinghat-openinfra/internal/log"
)

// SyncRunner executes one synchronization cycle.
type SyncRunner interface {
	Run(ctx context.Context, cfg jobs.Config) (*jobs.Status, error)
}

// Runner serializes synchronization runs. Scheduled and API-triggered
// runs share it, so at most one cycle touches SortingHat at a time.
type Runner struct {
	syncer SyncRunner
	// jobConfig yields the current run configuration; reloads swap it.
	jobConfig func() jobs.Config

	mu          sync.Mutex
	running     bool
	lastStatus  *jobs.Status
	lastSuccess time.Time
	lastError   string

	// baseCtx bounds background runs so they stop with the daemon.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. baseCtx is the daemon lifetime context;
// background runs are cancelled with it.
func NewRunner(baseCtx context.Context, syncer SyncRunner, jobConfig func() jobs.Config) *Runner {
	return &Runner{
		syncer:    syncer,
		jobConfig: jobConfig,
		baseCtx:   baseCtx,
	}
}

// Trigger starts a run in the background and returns its run ID.
// jobs.ErrSyncInProgress is returned while another run is active.
func (r *Runner) Trigger(_ context.Context) (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", jobs.ErrSyncInProgress
	}
	r.running = true
	r.mu.Unlock()

	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := log.ContextWithRunID(r.baseCtx, runID)
		r.runLocked(ctx)
	}()
	return runID, nil
}

// RunOnce executes a run synchronously. Used by the scheduler and by
// one-shot invocations. jobs.ErrSyncInProgress is returned while another
// run is active.
func (r *Runner) RunOnce(ctx context.Context) (*jobs.Status, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, jobs.ErrSyncInProgress
	}
	r.running = true
	r.mu.Unlock()

	return r.runLocked(ctx)
}

// runLocked performs the run and releases the running flag. The caller
// must have set running beforehand.
func (r *Runner) runLocked(ctx context.Context) (*jobs.Status, error) {
	status, err := r.syncer.Run(ctx, r.jobConfig())

	r.mu.Lock()
	r.running = false
	if status != nil {
		r.lastStatus = status
	}
	if err != nil {
		r.lastError = err.Error()
	} else {
		r.lastError = ""
		if status != nil {
			r.lastSuccess = status.FinishedAt
		}
	}
	r.mu.Unlock()
	return status, err
}

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastStatus returns the most recent run's status, nil before the first
// run completes.
func (r *Runner) LastStatus() *jobs.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStatus
}

// LastSync feeds the readiness checker: the finish time of the last
// successful run and the error text of the last run.
func (r *Runner) LastSync() (time.Time, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess, r.lastError
}

// Wait blocks until background runs finish. Called during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
