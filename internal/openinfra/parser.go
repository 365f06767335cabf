// SPDX-License-Identifier: GPL-3.0-or-later

package openinfra

import (
	"strconv"
	"strings"
	"time"

	"github.com/bitergia/sortinghat-openinfra/internal/identity"
)

// Source is the identity source name assigned to OpenInfraID identities.
const Source = "openinfra"

// GitHubSource is the identity source name assigned to linked GitHub accounts.
const GitHubSource = "github"

// minEnrollmentDate is used for affiliations without a start date.
var minEnrollmentDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseMembers converts member records into individuals, skipping members
// that carry no usable identity information.
func ParseMembers(members []Member) []identity.Individual {
	individuals := make([]identity.Individual, 0, len(members))
	for _, m := range members {
		indiv, ok := ParseMember(m)
		if !ok {
			continue
		}
		individuals = append(individuals, indiv)
	}
	return individuals
}

// ParseMember converts a single member record into an individual. The second
// return value is false when the member has neither a name nor a GitHub
// username and must be skipped.
func ParseMember(m Member) (identity.Individual, bool) {
	name := strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))

	indiv := identity.Individual{
		UUID: m.ID,
		Profile: identity.Profile{
			IsBot: false,
		},
	}

	if name != "" {
		indiv.Profile.Name = &name
		indiv.Identities = append(indiv.Identities, identity.Identity{
			Source:   Source,
			Name:     name,
			Email:    m.Email,
			Username: strconv.FormatInt(m.ID, 10),
		})
	}

	if gh := strings.TrimSpace(m.GitHubUser); gh != "" {
		indiv.Identities = append(indiv.Identities, identity.Identity{
			Source:   GitHubSource,
			Name:     name,
			Username: gh,
		})
	}

	if !indiv.HasIdentities() {
		return identity.Individual{}, false
	}

	if g := parseGender(m.Gender); g != "" {
		indiv.Profile.Gender = &g
	}

	for _, aff := range m.Affiliations {
		org := strings.TrimSpace(aff.Organization.Name)
		if org == "" {
			continue
		}
		start := minEnrollmentDate
		if aff.StartDate > 0 {
			start = time.Unix(aff.StartDate, 0).UTC()
		}
		enr := identity.Enrollment{
			Organization: identity.Organization{Name: org},
			Start:        start,
		}
		if aff.EndDate > 0 {
			end := time.Unix(aff.EndDate, 0).UTC()
			enr.End = &end
		}
		indiv.Enrollments = append(indiv.Enrollments, enr)
	}

	return indiv, true
}

// parseGender keeps only explicit gender values. Members may decline to
// state a gender; that value is dropped.
func parseGender(raw string) string {
	g := strings.TrimSpace(raw)
	switch strings.ToLower(g) {
	case "", "prefer not to say", "specify":
		return ""
	}
	return g
}
