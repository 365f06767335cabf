// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoi_pages_fetched_total",
		Help: "Total number of member pages fetched from OpenInfraID",
	})

	membersFetched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoi_members_fetched",
		Help: "Number of member records fetched in the last sync",
	})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoi_fetch_errors_total",
		Help: "Total number of upstream fetch failures",
	})

	// Parse metrics
	individualsParsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoi_individuals_parsed",
		Help: "Number of individuals parsed in the last sync",
	})

	membersSkipped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoi_members_skipped",
		Help: "Members skipped in the last sync (no usable identity)",
	})

	// Import metrics
	individualsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoi_individuals_imported_total",
		Help: "Individuals pushed to SortingHat by outcome",
	}, []string{"outcome"}) // outcome=imported|unchanged|failed

	importFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoi_import_failures_total",
		Help: "Total number of import failures by stage",
	}, []string{"stage"}) // stage=identity|profile|organization|enrollment

	// Sync metrics
	syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shoi_sync_duration_seconds",
		Help:    "Time spent on a complete sync run",
		Buckets: prometheus.DefBuckets,
	})

	syncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoi_sync_failures_total",
		Help: "Total number of sync failures by stage",
	}, []string{"stage"}) // stage=fetch|archive|checkpoint

	checkpointTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoi_checkpoint_timestamp_seconds",
		Help: "Unix timestamp of the incremental-fetch checkpoint",
	})

	lastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoi_last_sync_timestamp_seconds",
		Help: "Unix timestamp of the last successful sync",
	})
)

func AddPagesFetched(n int)    { pagesFetched.Add(float64(n)) }
func IncFetchError()           { fetchErrors.Inc() }
func RecordMembersCount(n int) { membersFetched.Set(float64(n)) }

func RecordParsed(individuals, skipped int) {
	individualsParsed.Set(float64(individuals))
	membersSkipped.Set(float64(skipped))
}

func IncImported(outcome string)    { individualsImported.WithLabelValues(outcome).Inc() }
func IncImportFailure(stage string) { importFailuresTotal.WithLabelValues(stage).Inc() }
func IncSyncFailure(stage string)   { syncFailuresTotal.WithLabelValues(stage).Inc() }

func RecordSyncDuration(d time.Duration) { syncDurationSeconds.Observe(d.Seconds()) }

func RecordCheckpoint(ts time.Time) { checkpointTimestamp.Set(float64(ts.Unix())) }
func RecordLastSync(ts time.Time)   { lastSyncTimestamp.Set(float64(ts.Unix())) }
