// SPDX-License-Identifier: GPL-3.0-or-later

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Sync attributes
	SyncPagesKey       = "sync.pages"
	SyncMembersKey     = "sync.members"
	SyncIndividualsKey = "sync.individuals"
	SyncImportedKey    = "sync.imported"
	SyncFailedKey      = "sync.failed"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SyncAttributes creates sync-run span attributes.
func SyncAttributes(pages, members, individuals, imported, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(SyncPagesKey, pages),
		attribute.Int(SyncMembersKey, members),
		attribute.Int(SyncIndividualsKey, individuals),
		attribute.Int(SyncImportedKey, imported),
		attribute.Int(SyncFailedKey, failed),
	}
}
