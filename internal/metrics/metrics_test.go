// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCountersRegisteredAndIncrement(t *testing.T) {
	AddPagesFetched(2)
	IncFetchError()
	IncImported("imported")
	IncImportFailure("identity")
	IncSyncFailure("fetch")

	families := gather(t)

	pages, ok := families["shoi_pages_fetched_total"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, pages.GetMetric()[0].GetCounter().GetValue(), 2.0)

	_, ok = families["shoi_fetch_errors_total"]
	assert.True(t, ok)
	_, ok = families["shoi_individuals_imported_total"]
	assert.True(t, ok)
	_, ok = families["shoi_import_failures_total"]
	assert.True(t, ok)
	_, ok = families["shoi_sync_failures_total"]
	assert.True(t, ok)
}

func TestGauges(t *testing.T) {
	RecordMembersCount(15)
	RecordParsed(5, 10)
	ts := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	RecordCheckpoint(ts)
	RecordLastSync(ts)

	families := gather(t)

	members := families["shoi_members_fetched"]
	require.NotNil(t, members)
	assert.Equal(t, 15.0, members.GetMetric()[0].GetGauge().GetValue())

	parsed := families["shoi_individuals_parsed"]
	require.NotNil(t, parsed)
	assert.Equal(t, 5.0, parsed.GetMetric()[0].GetGauge().GetValue())

	ckpt := families["shoi_checkpoint_timestamp_seconds"]
	require.NotNil(t, ckpt)
	assert.Equal(t, float64(ts.Unix()), ckpt.GetMetric()[0].GetGauge().GetValue())
}

func TestSyncDurationHistogram(t *testing.T) {
	RecordSyncDuration(1500 * time.Millisecond)

	families := gather(t)
	hist := families["shoi_sync_duration_seconds"]
	require.NotNil(t, hist)
	assert.GreaterOrEqual(t, hist.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))
}
