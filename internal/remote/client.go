// Package remote talks to the FHIR-style endpoint that stores records.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultContentType is sent with create and update bodies.
const DefaultContentType = "application/json"

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	// RequestsPerSecond limits endpoint calls. Zero or less means unlimited.
	RequestsPerSecond float64
	ContentType       string
	UserAgent         string
}

// Client issues search, create and update requests against one endpoint.
type Client struct {
	endpoint    *url.URL
	httpClient  *http.Client
	limiter     *rate.Limiter
	contentType string
	userAgent   string
}

// SearchResult is the part of a search bundle the sync needs.
type SearchResult struct {
	Total int
	// ID is entry[0].resource.id, empty when the bundle has no entries.
	ID string
}

// Found reports whether the search matched at least one record.
func (r SearchResult) Found() bool {
	return r.Total > 0
}

// Response is a status and body from a create or update.
type Response struct {
	StatusCode int
	Body       []byte
}

type bundle struct {
	Total *int `json:"total"`
	Entry []struct {
		Resource struct {
			ID string `json:"id"`
		} `json:"resource"`
	} `json:"entry"`
}

// NewClient returns a Client for endpoint, which must be an absolute http or
// https URL.
func NewClient(endpoint string, opts Options) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be an http or https URL", endpoint)
	}

	c := &Client{
		endpoint:    u,
		httpClient:  opts.HTTPClient,
		contentType: opts.ContentType,
		userAgent:   opts.UserAgent,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.contentType == "" {
		c.contentType = DefaultContentType
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// SearchURL returns <endpoint>?identifier=<value>, keeping any query already
// present on the endpoint.
func (c *Client) SearchURL(identifier string) string {
	u := *c.endpoint
	q := u.Query()
	q.Set("identifier", identifier)
	u.RawQuery = q.Encode()
	return u.String()
}

// RecordURL returns <endpoint>/<id>. The id is escaped as a single path
// segment, so a slash in it stays inside that segment.
func (c *Client) RecordURL(id string) string {
	u := *c.endpoint
	u.RawQuery = ""
	u.Fragment = ""
	escaped := strings.TrimRight(c.endpoint.EscapedPath(), "/") + "/" + url.PathEscape(id)
	if p, err := url.PathUnescape(escaped); err == nil {
		u.Path, u.RawPath = p, escaped
	}
	return u.String()
}

// Search looks up records whose identifier matches value.
func (c *Client) Search(ctx context.Context, value string) (SearchResult, error) {
	target := c.SearchURL(value)
	resp, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return SearchResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SearchResult{}, &HTTPError{Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode, Body: resp.Body}
	}

	var b bundle
	if err := json.Unmarshal(resp.Body, &b); err != nil {
		return SearchResult{}, fmt.Errorf("decoding search bundle from %s: %w", target, err)
	}

	result := SearchResult{Total: len(b.Entry)}
	if b.Total != nil {
		result.Total = *b.Total
	}
	if len(b.Entry) > 0 {
		result.ID = b.Entry[0].Resource.ID
	}
	return result, nil
}

// Create POSTs body to the endpoint unchanged.
func (c *Client) Create(ctx context.Context, body []byte) (*Response, error) {
	return c.write(ctx, http.MethodPost, c.Endpoint(), body)
}

// Update PUTs body to <endpoint>/<id>. Ids that would resolve to the endpoint
// itself or its parent are refused before any request is made.
func (c *Client) Update(ctx context.Context, id string, body []byte) (*Response, error) {
	switch strings.TrimSpace(id) {
	case "", ".", "..":
		return nil, fmt.Errorf("refusing to update record with id %q", id)
	}
	return c.write(ctx, http.MethodPut, c.RecordURL(id), body)
}

// write treats 200 and 201 as success; any other status is an *HTTPError
// returned together with the response.
func (c *Client) write(ctx context.Context, method, target string, body []byte) (*Response, error) {
	resp, err := c.do(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp, &HTTPError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", c.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s %s: %w", method, target, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}
