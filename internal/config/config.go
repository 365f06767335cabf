// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the importer configuration with the precedence
// ENV > config file > defaults. All environment variables use the SHOI_
// prefix. A ConfigHolder supports hot reloading the file at runtime.
package config

import "time"

// AppConfig is the complete runtime configuration of the importer.
type AppConfig struct {
	// OpenInfra upstream
	OpenInfra OpenInfraConfig `yaml:"openinfra"`

	// SortingHat backend
	SortingHat SortingHatConfig `yaml:"sortinghat"`

	// Sync behavior
	Sync SyncConfig `yaml:"sync"`

	// HTTP API server
	API APIConfig `yaml:"api"`

	// Prometheus metrics endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// Optional Redis cache backend. Empty Addr selects the in-memory cache.
	Redis RedisConfig `yaml:"redis"`

	// OpenTelemetry tracing
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// DataDir holds the badger store, the member archive and JSON exports.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// OpenInfraConfig configures the OpenInfraID client.
type OpenInfraConfig struct {
	BaseURL string  `yaml:"base_url"`
	Token   string  `yaml:"token"`
	Timeout int     `yaml:"timeout"`  // seconds per HTTP request
	Retries int     `yaml:"retries"`  // retry attempts per page
	RPS     float64 `yaml:"rps"`      // client-side rate limit
	Backoff int     `yaml:"backoff"`  // initial backoff in milliseconds
}

// SortingHatConfig configures the SortingHat GraphQL client.
// Either a pre-issued Token or User/Password credentials must be set.
type SortingHatConfig struct {
	URL      string  `yaml:"url"`
	User     string  `yaml:"user"`
	Password string  `yaml:"password"`
	Token    string  `yaml:"token"`
	RPS      float64 `yaml:"rps"`
}

// SyncConfig controls the periodic synchronization job.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
	// FromDate overrides the stored checkpoint for the next run
	// (RFC3339 or YYYY-MM-DD). Empty means resume from the checkpoint.
	FromDate string `yaml:"from_date"`
	// NoCache disables the fingerprint cache that skips unchanged members.
	NoCache bool `yaml:"no_cache"`
	// CacheTTL bounds how long member fingerprints are remembered.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// APIConfig configures the management HTTP server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Token protects the /api/* routes; health endpoints stay public.
	Token string `yaml:"token"`
	// RateLimit is the per-minute request budget per client IP.
	RateLimit int `yaml:"rate_limit"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// RedisConfig configures the optional Redis fingerprint cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}
