// SPDX-License-Identifier: GPL-3.0-or-later

// Package openinfra implements the client and parser for the OpenInfraID
// public members API.
package openinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitergia/sortinghat-openinfra/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Query parameter names of the members endpoint.
const (
	PPage    = "page"
	PPerPage = "per_page"
	PSort    = "sort"
	PFilter  = "filter"
)

const (
	// MembersPath is the paginated members endpoint, relative to the base URL.
	MembersPath = "/api/public/v1/members"

	// perPage is the page size requested from the members endpoint.
	perPage = 100

	// sortLastEdited requests newest-edited-first ordering.
	sortLastEdited = "-last_edited"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRetries        = 2
	defaultBackoff        = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
)

// Client interacts with the OpenInfraID members API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	token      string
	userAgent  string
	rnd        *rand.Rand
	mu         sync.Mutex
}

// Options configures the OpenInfraID client behavior.
type Options struct {
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	MaxRetries            int
	Backoff               time.Duration
	MaxBackoff            time.Duration
	Token                 string
	UserAgent             string
	RateLimit             rate.Limit
	RateLimitBurst        int
}

// New creates a new OpenInfraID client with default options.
func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

// NewWithOptions creates a new OpenInfraID client with explicit options.
func NewWithOptions(baseURL string, opts Options) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	nopts := normalizeOptions(opts)

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: nopts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}

	return &Client{
		BaseURL: trimmed,
		HTTPClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: transport,
		},
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		token:      nopts.Token,
		userAgent:  nopts.UserAgent,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = opts.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
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
	return opts
}

// FetchStats summarizes a paginated members fetch.
type FetchStats struct {
	Pages   int
	Members int
}

// FetchMembers walks the members endpoint page by page and returns every
// member record, newest edited first. When from is non-nil only members
// edited strictly after it are requested.
func (c *Client) FetchMembers(ctx context.Context, from *time.Time) ([]Member, FetchStats, error) {
	var members []Member
	stats := FetchStats{}

	err := c.EachPage(ctx, from, func(p Page) error {
		stats.Pages++
		stats.Members += len(p.Data)
		members = append(members, p.Data...)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return members, stats, nil
}

// EachPage fetches member pages sequentially and invokes fn for each one.
// Iteration stops at the first error returned by fn.
func (c *Client) EachPage(ctx context.Context, from *time.Time, fn func(Page) error) error {
	params := url.Values{}
	params.Set(PPerPage, strconv.Itoa(perPage))
	params.Set(PSort, sortLastEdited)
	if from != nil {
		params.Set(PFilter, fmt.Sprintf("last_edited>%d", from.Unix()))
	}

	for page := 1; ; page++ {
		params.Set(PPage, strconv.Itoa(page))

		var p Page
		if err := c.get(ctx, MembersPath, params, &p); err != nil {
			return fmt.Errorf("members page %d: %w", page, err)
		}
		if err := fn(p); err != nil {
			return err
		}
		if p.CurrentPage >= p.LastPage {
			return nil
		}
	}
}

// Ping performs a minimal request against the members endpoint. Used by
// readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set(PPerPage, "1")
	params.Set(PPage, "1")
	var p Page
	return c.get(ctx, MembersPath, params, &p)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v interface{}) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return &APIError{Sentinel: ErrUpstreamUnavailable, Operation: path, Err: err}
	}
	u.Path = path
	u.RawQuery = params.Encode()

	resp, err := c.doGet(ctx, u.String())
	if err != nil {
		return &APIError{Sentinel: ErrUpstreamUnavailable, Operation: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			Sentinel:  sentinelForStatus(resp.StatusCode),
			Operation: path,
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &APIError{Sentinel: ErrUpstreamBadResponse, Operation: path, Err: err}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, rawURL string) (*http.Response, error) {
	tracer := telemetry.Tracer("sortinghat.openinfra")
	route, urlLabel := traceLabels(rawURL)
	ctx, span := tracer.Start(ctx, "openinfra.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.route", route),
		attribute.String("http.url", urlLabel),
	)
	defer span.End()

	maxAttempts := c.maxRetries + 1
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		c.applyHeaders(req)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := c.HTTPClient.Do(req)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		retry := (err != nil || status >= http.StatusInternalServerError) && attempt < maxAttempts

		if err == nil && status < http.StatusInternalServerError {
			span.SetAttributes(telemetry.HTTPAttributes(http.MethodGet, route, urlLabel, status)...)
			if status >= http.StatusBadRequest {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return resp, nil
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		lastErr = err
		lastStatus = status

		if !retry {
			break
		}

		wait := c.backoffFor(attempt - 1)
		if err := sleepWithContext(ctx, wait); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if lastStatus > 0 {
		span.SetAttributes(telemetry.HTTPAttributes(http.MethodGet, route, urlLabel, lastStatus)...)
		span.SetStatus(codes.Error, http.StatusText(lastStatus))
		return nil, fmt.Errorf("request failed with status %d", lastStatus)
	}
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		return nil, lastErr
	}
	return nil, fmt.Errorf("request failed")
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func traceLabels(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, rawURL
	}
	route := u.Path
	if route == "" {
		route = "/"
	}
	urlLabel := route
	if u.RawQuery != "" {
		urlLabel += "?"
	}
	return route, urlLabel
}
