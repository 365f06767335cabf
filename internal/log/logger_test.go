// SPDX-License-Identifier: GPL-3.0-or-later

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logBuf captures all output for the package; the sink is set once so the
// whole test binary shares it.
var logBuf bytes.Buffer

func TestMain(m *testing.M) {
	Configure(Config{Level: "debug", Output: &logBuf, Service: "test-svc"})
	os.Exit(m.Run())
}

func lastEntry(t *testing.T) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(logBuf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestConfigureAppliesLevelOnReconfigure(t *testing.T) {
	t.Cleanup(func() { Configure(Config{Level: "debug"}) })

	// The daemon configures logging before loading its config and again
	// after; the level from the second call must take effect.
	Configure(Config{Level: "error", Service: "other"})
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())

	// An empty level leaves the current one alone.
	Configure(Config{})
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())

	// Sink and service fields stay from the first call.
	logger := Base()
	logger.Error().Str("event", "test.entry").Msg("hello")

	entry := lastEntry(t)
	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "test.entry", entry["event"])
	assert.Equal(t, "hello", entry["message"])
}

func TestWithComponent(t *testing.T) {
	logger := WithComponent("jobs")
	logger.Info().Msg("component log")

	entry := lastEntry(t)
	assert.Equal(t, "jobs", entry["component"])
}

func TestContextCorrelation(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithRunID(ctx, "run-7")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "run-7", RunIDFromContext(ctx))

	// nil context must not panic
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestWithComponentFromContext(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-42")
	logger := WithComponentFromContext(ctx, "importer")
	logger.Info().Msg("with run id")

	entry := lastEntry(t)
	assert.Equal(t, "run-42", entry["run_id"])
	assert.Equal(t, "importer", entry["component"])
}

func TestDerive(t *testing.T) {
	logger := Derive(nil)
	logger.Info().Msg("derive nil builder")

	entry := lastEntry(t)
	assert.Equal(t, "derive nil builder", entry["message"])
}
