// SPDX-License-Identifier: GPL-3.0-or-later

package openinfra

// Member is a single member record as returned by the OpenInfraID public
// members API. Only the fields consumed by the parser are mapped.
type Member struct {
	ID           int64         `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	GitHubUser   string        `json:"github_user"`
	Gender       string        `json:"gender"`
	Email        string        `json:"email"`
	LastEdited   int64         `json:"last_edited"`
	Affiliations []Affiliation `json:"affiliations"`
}

// Affiliation is a membership period of a member with an organization.
// StartDate and EndDate are unix seconds; a zero EndDate means the
// affiliation is still current.
type Affiliation struct {
	StartDate    int64        `json:"start_date"`
	EndDate      int64        `json:"end_date"`
	IsCurrent    bool         `json:"is_current"`
	Organization Organization `json:"organization"`
}

// Organization is the organization reference embedded in an affiliation.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Page is one page of the paginated members endpoint.
type Page struct {
	Total       int      `json:"total"`
	PerPage     int      `json:"per_page"`
	CurrentPage int      `json:"current_page"`
	LastPage    int      `json:"last_page"`
	Data        []Member `json:"data"`
}
