// SPDX-License-Identifier: GPL-3.0-or-later

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldMemberID  = "member_id"
	FieldUUID      = "uuid"
	FieldSource    = "source"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
	FieldPage    = "page"
)
