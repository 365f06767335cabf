// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrMissingOpenInfraURL is returned when no upstream URL is configured.
	ErrMissingOpenInfraURL = errors.New("openinfra base URL is required")
	// ErrMissingSortingHatAuth is returned when neither a token nor
	// user/password credentials are configured for SortingHat.
	ErrMissingSortingHatAuth = errors.New("sortinghat credentials are required (token or user/password)")
)

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for values that would make the
// daemon misbehave at runtime. It returns the first problem found.
func Validate(cfg AppConfig) error {
	if cfg.OpenInfra.BaseURL == "" {
		return ErrMissingOpenInfraURL
	}
	if err := validateURL("openinfra.base_url", cfg.OpenInfra.BaseURL); err != nil {
		return err
	}
	if cfg.OpenInfra.Timeout <= 0 {
		return fmt.Errorf("openinfra.timeout must be positive, got %d", cfg.OpenInfra.Timeout)
	}
	if cfg.OpenInfra.Retries < 0 {
		return fmt.Errorf("openinfra.retries must not be negative, got %d", cfg.OpenInfra.Retries)
	}

	if cfg.SortingHat.URL == "" {
		return errors.New("sortinghat URL is required")
	}
	if err := validateURL("sortinghat.url", cfg.SortingHat.URL); err != nil {
		return err
	}
	if cfg.SortingHat.Token == "" && (cfg.SortingHat.User == "" || cfg.SortingHat.Password == "") {
		return ErrMissingSortingHatAuth
	}

	if cfg.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m, got %s", cfg.Sync.Interval)
	}
	if cfg.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.FromDate != "" {
		if _, err := ParseFromDate(cfg.Sync.FromDate); err != nil {
			return fmt.Errorf("sync.from_date: %w", err)
		}
	}

	if cfg.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if cfg.API.ListenAddr == "" {
		return errors.New("api.listen_addr is required")
	}
	if cfg.API.RateLimit < 1 {
		return fmt.Errorf("api.rate_limit must be at least 1, got %d", cfg.API.RateLimit)
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			return fmt.Errorf("invalid telemetry exporter %q (want grpc or http)", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be in [0,1], got %g", cfg.Telemetry.SamplingRate)
		}
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", field)
	}
	return nil
}

// ParseFromDate parses a from-date override. Both RFC3339 timestamps and
// plain dates (YYYY-MM-DD, interpreted as midnight UTC) are accepted.
func ParseFromDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want RFC3339 or YYYY-MM-DD)", s)
}
