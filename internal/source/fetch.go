// Package source assembles the list of source URLs and fetches the JSON
// document behind each one.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/micahrl/fhirsync/internal/document"
	"github.com/micahrl/fhirsync/internal/remote"
)

// Fetcher retrieves documents over http(s), from S3 (s3://bucket/key), or
// from the local filesystem (file:// or a bare path).
type Fetcher struct {
	httpClient *http.Client
	s3         S3API
	userAgent  string
}

// NewFetcher returns a Fetcher. s3Client may be nil when no s3:// sources
// are used; a nil httpClient means http.DefaultClient.
func NewFetcher(httpClient *http.Client, s3Client S3API, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{httpClient: httpClient, s3: s3Client, userAgent: userAgent}
}

// Fetch returns the parsed document at rawURL. Every call is a fresh read.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*document.Document, error) {
	data, err := f.read(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s returned %s, not JSON: %w", rawURL, mimetype.Detect(data).String(), err)
	}
	return doc, nil
}

func (f *Fetcher) read(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing source URL %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.readHTTP(ctx, rawURL)
	case "s3":
		if f.s3 == nil {
			return nil, fmt.Errorf("source %s needs an S3 client", rawURL)
		}
		return readS3(ctx, f.s3, u)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(rawURL)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q in %s", u.Scheme, rawURL)
	}
}

func (f *Fetcher) readHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &remote.HTTPError{Method: http.MethodGet, URL: rawURL, StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
