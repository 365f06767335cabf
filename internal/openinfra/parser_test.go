// SPDX-License-Identifier: GPL-3.0-or-later

package openinfra

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitergia/sortinghat-openinfra/internal/identity"
)

func strptr(s string) *string { return &s }

func TestParseMemberFullRecord(t *testing.T) {
	m := Member{
		ID:         136832,
		FirstName:  "name",
		LastName:   "surname",
		GitHubUser: "random-gh-user",
	}

	indiv, ok := ParseMember(m)
	require.True(t, ok)

	want := identity.Individual{
		UUID: 136832,
		Profile: identity.Profile{
			Name:  strptr("name surname"),
			IsBot: false,
		},
		Identities: []identity.Identity{
			{Source: "openinfra", Name: "name surname", Username: "136832"},
			{Source: "github", Name: "name surname", Username: "random-gh-user"},
		},
	}
	if diff := cmp.Diff(want, indiv); diff != "" {
		t.Errorf("individual mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMemberGitHubOnly(t *testing.T) {
	m := Member{ID: 136853, GitHubUser: "random-gh-user-2"}

	indiv, ok := ParseMember(m)
	require.True(t, ok)

	assert.Nil(t, indiv.Profile.Name)
	require.Len(t, indiv.Identities, 1)
	assert.Equal(t, "github", indiv.Identities[0].Source)
	assert.Equal(t, "", indiv.Identities[0].Name)
	assert.Equal(t, "random-gh-user-2", indiv.Identities[0].Username)
}

func TestParseMemberEnrollments(t *testing.T) {
	m := Member{
		ID:        125525,
		FirstName: "name_3",
		LastName:  "last_name_3",
		Affiliations: []Affiliation{
			{StartDate: 1598918400, Organization: Organization{Name: "Technology Org"}},
		},
	}

	indiv, ok := ParseMember(m)
	require.True(t, ok)

	assert.Equal(t, "name_3 last_name_3", *indiv.Profile.Name)
	assert.Nil(t, indiv.Profile.Gender)
	require.Len(t, indiv.Enrollments, 1)
	assert.Equal(t, time.Date(2020, 9, 1, 0, 0, 0, 0, time.UTC), indiv.Enrollments[0].Start)
	assert.Nil(t, indiv.Enrollments[0].End)
	assert.Equal(t, "Technology Org", indiv.Enrollments[0].Organization.Name)
}

func TestParseMemberClosedEnrollment(t *testing.T) {
	m := Member{
		ID:        1,
		FirstName: "a",
		Affiliations: []Affiliation{
			{StartDate: 1598918400, EndDate: 1630454400, Organization: Organization{Name: "Org"}},
		},
	}

	indiv, ok := ParseMember(m)
	require.True(t, ok)
	require.Len(t, indiv.Enrollments, 1)
	require.NotNil(t, indiv.Enrollments[0].End)
	assert.Equal(t, time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC), *indiv.Enrollments[0].End)
}

func TestParseMemberMissingStartDate(t *testing.T) {
	m := Member{
		ID:        2,
		FirstName: "b",
		Affiliations: []Affiliation{
			{Organization: Organization{Name: "Org"}},
		},
	}

	indiv, ok := ParseMember(m)
	require.True(t, ok)
	require.Len(t, indiv.Enrollments, 1)
	assert.Equal(t, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), indiv.Enrollments[0].Start)
}

func TestParseMemberSkipsEmptyRecords(t *testing.T) {
	_, ok := ParseMember(Member{ID: 3})
	assert.False(t, ok)

	// Whitespace-only names are not identities either.
	_, ok = ParseMember(Member{ID: 4, FirstName: "  ", LastName: " "})
	assert.False(t, ok)
}

func TestParseMemberGender(t *testing.T) {
	cases := []struct {
		raw  string
		want *string
	}{
		{"Male", strptr("Male")},
		{"Prefer not to say", nil},
		{"", nil},
	}
	for _, tc := range cases {
		m := Member{ID: 9, FirstName: "x", Gender: tc.raw}
		indiv, ok := ParseMember(m)
		require.True(t, ok)
		if tc.want == nil {
			assert.Nil(t, indiv.Profile.Gender, "raw gender %q", tc.raw)
		} else {
			require.NotNil(t, indiv.Profile.Gender)
			assert.Equal(t, *tc.want, *indiv.Profile.Gender)
		}
	}
}

func TestParseMembersSkipCount(t *testing.T) {
	members := []Member{
		{ID: 1, FirstName: "a"},
		{ID: 2},
		{ID: 3, GitHubUser: "gh"},
		{ID: 4},
	}

	individuals := ParseMembers(members)
	assert.Len(t, individuals, 2)
}
