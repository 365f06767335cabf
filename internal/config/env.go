// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitergia/sortinghat-openinfra/internal/log"
)

// ParseString reads a string from an environment variable or returns the
// default. The source (environment or default) is logged; values of keys
// containing "token" or "password" are never logged.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	} else {
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from an environment variable or returns the
// default. Parse errors fall back to the default.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer, using default")
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean from an environment variable or returns the
// default. Accepted values follow strconv.ParseBool.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}

// ParseFloat reads a float from an environment variable or returns the
// default.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float, using default")
		return defaultValue
	}
	return f
}

// ParseDuration reads a duration from an environment variable or returns
// the default. Values use Go duration syntax ("1h", "30m").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}
