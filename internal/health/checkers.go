// SPDX-License-Identifier: GPL-3.0-or-later

package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the connectivity probe both upstream clients implement.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker probes a remote dependency (OpenInfraID API or the
// SortingHat server) with a bounded timeout.
type UpstreamChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewUpstreamChecker creates a checker for a remote dependency.
func NewUpstreamChecker(name string, pinger Pinger) *UpstreamChecker {
	return &UpstreamChecker{
		name:    name,
		pinger:  pinger,
		timeout: 5 * time.Second,
	}
}

func (c *UpstreamChecker) Name() string {
	return c.name
}

func (c *UpstreamChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.pinger.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "upstream unreachable",
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "upstream reachable",
	}
}

// LastSyncChecker reports on the most recent synchronization run. A
// daemon whose last run failed, or that has not completed a run within
// two sync intervals, is degraded rather than unhealthy: stale identity
// data is still servable.
type LastSyncChecker struct {
	interval    time.Duration
	getLastSync func() (time.Time, string)
}

// NewLastSyncChecker creates a checker over the daemon's last sync
// outcome. getLastSync returns the finish time of the last successful
// run (zero if none) and the error text of the last run ("" on success).
func NewLastSyncChecker(interval time.Duration, getLastSync func() (time.Time, string)) *LastSyncChecker {
	return &LastSyncChecker{
		interval:    interval,
		getLastSync: getLastSync,
	}
}

func (c *LastSyncChecker) Name() string {
	return "last_sync"
}

func (c *LastSyncChecker) Check(_ context.Context) CheckResult {
	lastSync, lastError := c.getLastSync()

	if lastSync.IsZero() {
		if lastError != "" {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   lastError,
				Message: "no successful sync yet",
			}
		}
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no sync completed yet",
		}
	}

	if lastError != "" {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   lastError,
			Message: "last sync failed",
		}
	}

	if age := time.Since(lastSync); age > 2*c.interval {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last sync %s ago", age.Round(time.Second)),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "last sync successful",
	}
}
