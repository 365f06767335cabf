// SPDX-License-Identifier: GPL-3.0-or-later

package openinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMembersServer serves two fixed pages of members and records every
// request query string.
func newMembersServer(t *testing.T, pages []Page) (*httptest.Server, *[]url.Values) {
	t.Helper()

	var requests []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, MembersPath, r.URL.Path)
		requests = append(requests, r.URL.Query())

		page := 1
		if raw := r.URL.Query().Get(PPage); raw != "" {
			fmt.Sscanf(raw, "%d", &page)
		}
		require.LessOrEqual(t, page, len(pages))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(pages[page-1]))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func twoPages() []Page {
	return []Page{
		{
			Total: 3, PerPage: 2, CurrentPage: 1, LastPage: 2,
			Data: []Member{
				{ID: 136832, FirstName: "name", LastName: "surname", GitHubUser: "random-gh-user", LastEdited: 1672531200},
				{ID: 136853, GitHubUser: "random-gh-user-2", LastEdited: 1672444800},
			},
		},
		{
			Total: 3, PerPage: 2, CurrentPage: 2, LastPage: 2,
			Data: []Member{
				{
					ID: 125525, FirstName: "name_3", LastName: "last_name_3", LastEdited: 1672358400,
					Affiliations: []Affiliation{
						{StartDate: 1598918400, Organization: Organization{Name: "Technology Org"}},
					},
				},
			},
		},
	}
}

func TestFetchMembersPaginates(t *testing.T) {
	srv, requests := newMembersServer(t, twoPages())
	cl := New(srv.URL)

	members, stats, err := cl.FetchMembers(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, members, 3)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Members)
	assert.Equal(t, int64(136832), members[0].ID)
	assert.Equal(t, int64(125525), members[2].ID)

	require.Len(t, *requests, 2)
	for i, qs := range *requests {
		assert.Equal(t, fmt.Sprint(i+1), qs.Get(PPage))
		assert.Equal(t, "100", qs.Get(PPerPage))
		assert.Equal(t, "-last_edited", qs.Get(PSort))
		assert.Empty(t, qs.Get(PFilter))
	}
}

func TestFetchMembersFromDate(t *testing.T) {
	srv, requests := newMembersServer(t, twoPages())
	cl := New(srv.URL)

	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := cl.FetchMembers(context.Background(), &from)
	require.NoError(t, err)

	require.Len(t, *requests, 2)
	for _, qs := range *requests {
		assert.Equal(t, "last_edited>946684800", qs.Get(PFilter))
		assert.Equal(t, "-last_edited", qs.Get(PSort))
		assert.Equal(t, "100", qs.Get(PPerPage))
	}
}

func TestEachPageStopsOnCallbackError(t *testing.T) {
	srv, requests := newMembersServer(t, twoPages())
	cl := New(srv.URL)

	wantErr := fmt.Errorf("stop here")
	err := cl.EachPage(context.Background(), nil, func(Page) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	assert.Len(t, *requests, 1)
}

func TestFetchMembersNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	cl := New(srv.URL)
	_, _, err := cl.FetchMembers(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestFetchMembersRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Page{CurrentPage: 1, LastPage: 1})
	}))
	t.Cleanup(srv.Close)

	cl := NewWithOptions(srv.URL, Options{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})

	_, stats, err := cl.FetchMembers(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, stats.Pages)
}

func TestFetchMembersBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)

	cl := New(srv.URL)
	_, _, err := cl.FetchMembers(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestClientSendsAuthAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "custom-agent", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(Page{CurrentPage: 1, LastPage: 1})
	}))
	t.Cleanup(srv.Close)

	cl := NewWithOptions(srv.URL, Options{Token: "secret-token", UserAgent: "custom-agent"})
	require.NoError(t, cl.Ping(context.Background()))
}
