package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// resourceSegment is the placeholder root every lookup path starts with.
const resourceSegment = "/resource"

const maxDocumentBytes = 8 << 20

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	BaseURL string        // e.g. http://teamcity:8111
	Root    string        // replaces "/resource" in lookup paths, e.g. /app/rest
	Token   string        // optional bearer token
	Timeout time.Duration // per request
}

// HTTPFetcher fetches documents over HTTP. It does not retry.
type HTTPFetcher struct {
	base   *url.URL
	root   string
	client *http.Client
}

// NewHTTPFetcher validates cfg and builds a fetcher with a tuned transport.
func NewHTTPFetcher(cfg HTTPConfig) (*HTTPFetcher, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("fetch: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: base url %q must be http or https", cfg.BaseURL)
	}
	return &HTTPFetcher{
		base:   u,
		root:   "/" + strings.Trim(cfg.Root, "/"),
		client: newHTTPClient(cfg.Timeout, cfg.Token),
	}, nil
}

func newHTTPClient(timeout time.Duration, token string) *http.Client {
	var tr http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if token != "" {
		tr = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   tr,
		}
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// URL returns the absolute URL path resolves to.
func (f *HTTPFetcher) URL(path, fields string) string {
	rel := strings.TrimPrefix(path, resourceSegment)
	if f.root == "/" {
		rel = strings.TrimPrefix(rel, "/")
	}
	u := *f.base
	u.Path = u.Path + f.root + rel
	if fields != "" {
		u.RawQuery = url.Values{"fields": {fields}}.Encode()
	}
	return u.String()
}

// Fetch GETs the document at path. Paths with dot segments and documents
// larger than 8 MiB are fetch errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, path, fields string) ([]byte, error) {
	if hasDotSegment(path) {
		return nil, Wrap(path, errors.New("path contains dot segments"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(path, fields), nil)
	if err != nil {
		return nil, Wrap(path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Wrap(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, Wrap(path, fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxDocumentBytes {
		return nil, Wrap(path, fmt.Errorf("document exceeds %d bytes", maxDocumentBytes))
	}
	if resp.StatusCode >= 400 {
		return nil, Wrap(path, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)))
	}
	return body, nil
}

func hasDotSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
