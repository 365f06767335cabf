// SPDX-License-Identifier: GPL-3.0-or-later

// Package jobs orchestrates the synchronization cycle: fetch members from
// OpenInfraID, archive the raw records, parse them into individuals and
// import those into SortingHat.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/sortinghat"
	"github.com/bitergia/sortinghat-openinfra/internal/store"
)

// ErrSyncInProgress is returned when a run is requested while another
// one is still active. Runs are strictly serialized.
var ErrSyncInProgress = errors.New("sync already in progress")

// Fetcher retrieves member records from the OpenInfraID API.
type Fetcher interface {
	FetchMembers(ctx context.Context, from *time.Time) ([]openinfra.Member, openinfra.FetchStats, error)
}

// Backend is the subset of the SortingHat client the importer needs.
type Backend interface {
	AddIdentity(ctx context.Context, source, name, email, username, uuid string) (string, error)
	UpdateProfile(ctx context.Context, uuid string, data sortinghat.ProfileInput) error
	AddOrganization(ctx context.Context, name string) error
	Enroll(ctx context.Context, uuid, organization string, from time.Time, to *time.Time) error
}

// Archiver persists raw member records for replay and inspection.
type Archiver interface {
	SaveMembers(ctx context.Context, members []openinfra.Member) error
}

// CheckpointStore persists the incremental-fetch checkpoint and run
// records.
type CheckpointStore interface {
	Checkpoint(ctx context.Context) (time.Time, bool, error)
	SetCheckpoint(ctx context.Context, ts time.Time) error
	PutRun(ctx context.Context, rec *store.RunRecord) error
}

// Config controls a synchronization run.
type Config struct {
	// FromDate overrides the stored checkpoint when non-nil.
	FromDate *time.Time
	// Workers bounds the concurrent SortingHat imports.
	Workers int
	// NoCache disables the fingerprint cache, forcing a full re-import.
	NoCache bool
	// CacheTTL bounds how long member fingerprints are remembered.
	CacheTTL time.Duration
}

// Status summarizes a completed (or failed) synchronization run.
type Status struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Pages       int       `json:"pages"`
	Members     int       `json:"members"`
	Individuals int       `json:"individuals"`
	Imported    int       `json:"imported"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Checkpoint  time.Time `json:"checkpoint,omitzero"`
	Error       string    `json:"error,omitempty"`
}
