// SPDX-License-Identifier: GPL-3.0-or-later

// Package sortinghat implements a client for the SortingHat GraphQL API,
// covering the mutations the importer needs.
package sortinghat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRateLimit      = 20
	defaultRateLimitBurst = 40

	// dateFormat is the date layout the backend expects for enrollments.
	dateFormat = "2006-01-02T15:04:05Z07:00"
)

// Client talks to a SortingHat server over its GraphQL endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	token      string
	userAgent  string
}

// Options configures the SortingHat client.
type Options struct {
	Timeout        time.Duration
	Token          string
	UserAgent      string
	RateLimit      rate.Limit
	RateLimitBurst int
}

// New creates a SortingHat client for the given GraphQL endpoint URL.
func New(endpoint string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "sortinghat-openinfra"
	}
	return &Client{
		URL:        strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		token:      opts.Token,
		userAgent:  opts.UserAgent,
	}
}

// SetToken replaces the JWT used for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// TokenAuth obtains a JWT for the given credentials and installs it on the
// client.
func (c *Client) TokenAuth(ctx context.Context, username, password string) (string, error) {
	const q = `mutation tokenAuth($username: String!, $password: String!) {
  tokenAuth(username: $username, password: $password) { token }
}`
	var out struct {
		TokenAuth struct {
			Token string `json:"token"`
		} `json:"tokenAuth"`
	}
	if err := c.do(ctx, "tokenAuth", q, map[string]any{
		"username": username,
		"password": password,
	}, &out); err != nil {
		return "", err
	}
	if out.TokenAuth.Token == "" {
		return "", &OpError{Sentinel: ErrUnauthorized, Operation: "tokenAuth", Message: "empty token"}
	}
	c.token = out.TokenAuth.Token
	return out.TokenAuth.Token, nil
}

// AddOrganization registers an organization. Re-adding an existing
// organization returns ErrAlreadyExists.
func (c *Client) AddOrganization(ctx context.Context, name string) error {
	const q = `mutation addOrganization($name: String!) {
  addOrganization(name: $name) { organization { name } }
}`
	return c.do(ctx, "addOrganization", q, map[string]any{"name": name}, nil)
}

// AddIdentity registers an identity and returns the UUID of the individual
// it belongs to. When uuid is non-empty the identity is attached to that
// individual instead of creating a new one.
func (c *Client) AddIdentity(ctx context.Context, source, name, email, username, uuid string) (string, error) {
	const q = `mutation addIdentity($source: String!, $name: String, $email: String, $username: String, $uuid: String) {
  addIdentity(source: $source, name: $name, email: $email, username: $username, uuid: $uuid) { uuid }
}`
	vars := map[string]any{
		"source":   source,
		"name":     name,
		"email":    email,
		"username": username,
	}
	if uuid != "" {
		vars["uuid"] = uuid
	}
	var out struct {
		AddIdentity struct {
			UUID string `json:"uuid"`
		} `json:"addIdentity"`
	}
	if err := c.do(ctx, "addIdentity", q, vars, &out); err != nil {
		return "", err
	}
	return out.AddIdentity.UUID, nil
}

// ProfileInput carries the profile fields of updateProfile.
type ProfileInput struct {
	Name   *string `json:"name,omitempty"`
	Gender *string `json:"gender,omitempty"`
	IsBot  *bool   `json:"isBot,omitempty"`
}

// UpdateProfile updates the unified profile of an individual.
func (c *Client) UpdateProfile(ctx context.Context, uuid string, data ProfileInput) error {
	const q = `mutation updateProfile($uuid: String!, $data: ProfileInputType!) {
  updateProfile(uuid: $uuid, data: $data) { uuid }
}`
	return c.do(ctx, "updateProfile", q, map[string]any{
		"uuid": uuid,
		"data": data,
	}, nil)
}

// Enroll adds an enrollment period to an individual. A nil to date leaves
// the enrollment open-ended. Overlapping periods are merged by the backend.
func (c *Client) Enroll(ctx context.Context, uuid, organization string, from time.Time, to *time.Time) error {
	const q = `mutation enroll($uuid: String!, $group: String!, $fromDate: DateTime, $toDate: DateTime, $force: Boolean) {
  enroll(uuid: $uuid, group: $group, fromDate: $fromDate, toDate: $toDate, force: $force) { uuid }
}`
	vars := map[string]any{
		"uuid":     uuid,
		"group":    organization,
		"fromDate": from.UTC().Format(dateFormat),
		"force":    true,
	}
	if to != nil {
		vars["toDate"] = to.UTC().Format(dateFormat)
	}
	return c.do(ctx, "enroll", q, vars, nil)
}

// Ping verifies the endpoint answers GraphQL requests. Used by readiness
// checks.
func (c *Client) Ping(ctx context.Context) error {
	const q = `{ __typename }`
	return c.do(ctx, "ping", q, nil, nil)
}

func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return &OpError{Operation: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return &OpError{Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "JWT "+c.token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &OpError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &OpError{Sentinel: ErrUnauthorized, Operation: op, Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &OpError{
			Sentinel:  ErrUnavailable,
			Operation: op,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	var gr response
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return &OpError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}

	if len(gr.Errors) > 0 {
		first := gr.Errors[0]
		return &OpError{
			Sentinel:  first.sentinel(),
			Operation: op,
			Message:   first.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return &OpError{Sentinel: ErrUnavailable, Operation: op, Err: err}
		}
	}
	return nil
}
