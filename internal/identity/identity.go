// SPDX-License-Identifier: GPL-3.0-or-later

// Package identity defines the individual model exchanged between the
// OpenInfraID parser and the SortingHat importer.
package identity

import "time"

// Profile holds the unified profile information of an individual.
type Profile struct {
	Name   *string `json:"name"`
	Gender *string `json:"gender,omitempty"`
	IsBot  bool    `json:"is_bot"`
}

// Identity is a single account of an individual in one data source.
type Identity struct {
	Source   string `json:"source"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
}

// Organization identifies an organization an individual is enrolled in.
type Organization struct {
	Name string `json:"name"`
}

// Enrollment is an affiliation period of an individual with an organization.
// A nil End means the enrollment is still open.
type Enrollment struct {
	Organization Organization `json:"organization"`
	Start        time.Time    `json:"start"`
	End          *time.Time   `json:"end"`
}

// Individual groups the profile, identities and enrollments extracted from a
// single upstream member record. UUID is the upstream member identifier; the
// backend assigns its own identifiers on import.
type Individual struct {
	UUID        int64        `json:"uuid"`
	Profile     Profile      `json:"profile"`
	Identities  []Identity   `json:"identities"`
	Enrollments []Enrollment `json:"enrollments,omitempty"`
}

// HasIdentities reports whether the individual carries at least one identity.
// Individuals without identities cannot be imported.
func (i Individual) HasIdentities() bool {
	return len(i.Identities) > 0
}
