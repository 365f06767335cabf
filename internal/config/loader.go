// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable keys consumed by the loader.
const (
	EnvOpenInfraURL     = "SHOI_OPENINFRA_URL"
	EnvOpenInfraToken   = "SHOI_OPENINFRA_TOKEN"
	EnvOpenInfraTimeout = "SHOI_OPENINFRA_TIMEOUT"
	EnvOpenInfraRetries = "SHOI_OPENINFRA_RETRIES"
	EnvOpenInfraRPS     = "SHOI_OPENINFRA_RPS"

	EnvSortingHatURL      = "SHOI_SORTINGHAT_URL"
	EnvSortingHatUser     = "SHOI_SORTINGHAT_USER"
	EnvSortingHatPassword = "SHOI_SORTINGHAT_PASSWORD"
	EnvSortingHatToken    = "SHOI_SORTINGHAT_TOKEN"

	EnvSyncInterval = "SHOI_SYNC_INTERVAL"
	EnvSyncWorkers  = "SHOI_SYNC_WORKERS"
	EnvSyncFromDate = "SHOI_SYNC_FROM_DATE"
	EnvSyncNoCache  = "SHOI_SYNC_NO_CACHE"
	EnvSyncCacheTTL = "SHOI_SYNC_CACHE_TTL"

	EnvAPIListenAddr = "SHOI_API_LISTEN_ADDR"
	EnvAPIToken      = "SHOI_API_TOKEN"
	EnvAPIRateLimit  = "SHOI_API_RATE_LIMIT"

	EnvMetricsEnabled    = "SHOI_METRICS_ENABLED"
	EnvMetricsListenAddr = "SHOI_METRICS_LISTEN_ADDR"

	EnvRedisAddr     = "SHOI_REDIS_ADDR"
	EnvRedisPassword = "SHOI_REDIS_PASSWORD"
	EnvRedisDB       = "SHOI_REDIS_DB"

	EnvTelemetryEnabled      = "SHOI_TELEMETRY_ENABLED"
	EnvTelemetryExporterType = "SHOI_TELEMETRY_EXPORTER"
	EnvTelemetryEndpoint     = "SHOI_TELEMETRY_ENDPOINT"
	EnvTelemetrySamplingRate = "SHOI_TELEMETRY_SAMPLING_RATE"
	EnvTelemetryEnvironment  = "SHOI_TELEMETRY_ENVIRONMENT"

	EnvDataDir  = "SHOI_DATA_DIR"
	EnvLogLevel = "SHOI_LOG_LEVEL"
)

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty configPath means ENV-only
// configuration.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load builds the configuration: defaults first, config file on top,
// environment variables last. The result is validated before return.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		OpenInfra: OpenInfraConfig{
			BaseURL: "https://openstackid-resources.openstack.org",
			Timeout: 30,
			Retries: 3,
			RPS:     5,
			Backoff: 500,
		},
		SortingHat: SortingHatConfig{
			URL: "http://localhost:8000/api/",
			RPS: 10,
		},
		Sync: SyncConfig{
			Interval: time.Hour,
			Workers:  4,
			CacheTTL: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			ListenAddr: ":8080",
			RateLimit:  60,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			SamplingRate: 0.1,
			Environment:  "production",
		},
		DataDir:  "data",
		LogLevel: "info",
	}
}

// mergeFile decodes the YAML config file strictly on top of cfg.
// Fields absent from the file keep their current values.
func (l *Loader) mergeFile(cfg *AppConfig) error {
	f, err := os.Open(l.configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", l.configPath, err)
	}
	return nil
}

// mergeEnv overrides cfg with values from the environment.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.OpenInfra.BaseURL = ParseString(EnvOpenInfraURL, cfg.OpenInfra.BaseURL)
	cfg.OpenInfra.Token = ParseString(EnvOpenInfraToken, cfg.OpenInfra.Token)
	cfg.OpenInfra.Timeout = ParseInt(EnvOpenInfraTimeout, cfg.OpenInfra.Timeout)
	cfg.OpenInfra.Retries = ParseInt(EnvOpenInfraRetries, cfg.OpenInfra.Retries)
	cfg.OpenInfra.RPS = ParseFloat(EnvOpenInfraRPS, cfg.OpenInfra.RPS)

	cfg.SortingHat.URL = ParseString(EnvSortingHatURL, cfg.SortingHat.URL)
	cfg.SortingHat.User = ParseString(EnvSortingHatUser, cfg.SortingHat.User)
	cfg.SortingHat.Password = ParseString(EnvSortingHatPassword, cfg.SortingHat.Password)
	cfg.SortingHat.Token = ParseString(EnvSortingHatToken, cfg.SortingHat.Token)

	cfg.Sync.Interval = ParseDuration(EnvSyncInterval, cfg.Sync.Interval)
	cfg.Sync.Workers = ParseInt(EnvSyncWorkers, cfg.Sync.Workers)
	cfg.Sync.FromDate = ParseString(EnvSyncFromDate, cfg.Sync.FromDate)
	cfg.Sync.NoCache = ParseBool(EnvSyncNoCache, cfg.Sync.NoCache)
	cfg.Sync.CacheTTL = ParseDuration(EnvSyncCacheTTL, cfg.Sync.CacheTTL)

	cfg.API.ListenAddr = ParseString(EnvAPIListenAddr, cfg.API.ListenAddr)
	cfg.API.Token = ParseString(EnvAPIToken, cfg.API.Token)
	cfg.API.RateLimit = ParseInt(EnvAPIRateLimit, cfg.API.RateLimit)

	cfg.Metrics.Enabled = ParseBool(EnvMetricsEnabled, cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = ParseString(EnvMetricsListenAddr, cfg.Metrics.ListenAddr)

	cfg.Redis.Addr = ParseString(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(EnvRedisPassword, cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(EnvRedisDB, cfg.Redis.DB)

	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(EnvTelemetryExporterType, cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvTelemetrySamplingRate, cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString(EnvTelemetryEnvironment, cfg.Telemetry.Environment)

	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
}
