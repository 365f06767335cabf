// SPDX-License-Identifier: GPL-3.0-or-later

// Package health provides liveness and readiness checks for the importer
// daemon. It supports Docker HEALTHCHECK and Kubernetes probes with
// per-component status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bitergia/sortinghat-openinfra/internal/log"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the body of /readyz.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is a named component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checkers into liveness and readiness
// responses.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component checker.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health performs the liveness check. The process being able to answer
// is enough for a 200; component results are included when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready performs the readiness check. Any unhealthy component makes the
// daemon not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status
}

// ServeHealth handles /healthz requests. Liveness always answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles /readyz requests.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}
