// SPDX-License-Identifier: GPL-3.0-or-later

package openinfra

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("upstream: resource not found")
	ErrForbidden           = errors.New("upstream: access forbidden")
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("upstream: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout             = errors.New("upstream: request timed out")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("openinfra: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// sentinelForStatus maps an HTTP status code to the matching sentinel error.
func sentinelForStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrForbidden
	case status >= 500:
		return ErrUpstreamError
	default:
		return ErrUpstreamUnavailable
	}
}
