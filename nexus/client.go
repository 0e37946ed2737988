// Package nexus is a typed client for the nexus calculation engine's REST
// API. The engine owns all threshold and liability math; this client only
// moves JSON across the boundary.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"golang.org/x/oauth2"

	"github.com/clearnexus/nexdash/cache"
)

const DefaultBaseURL = "https://engine.clearnexus.io"

// Error is an API error returned by the engine.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an engine 404.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	tokens  oauth2.TokenSource // optional; nil means unauthenticated

	cache cache.Cache // optional; nil means no cache
	ttl   time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithCache(impl cache.Cache, ttl time.Duration) Option {
	return func(c *Client) { c.cache, c.ttl = impl, ttl }
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 20 * time.Second},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newReq(ctx context.Context, method, p string, q map[string]string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	qq := u.Query()
	for k, v := range q {
		qq.Set(k, v)
	}
	u.RawQuery = qq.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("engine token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	return req, nil
}

// getJSON performs a cached GET. Fresh cache entries short-circuit the
// network; stale entries are revalidated with If-None-Match.
func (c *Client) getJSON(ctx context.Context, p string, q map[string]string, out any) error {
	req, err := c.newReq(ctx, http.MethodGet, p, q, nil)
	if err != nil {
		return err
	}

	var key string
	if c.cache != nil {
		key = c.cache.KeyFor(p, q)
		if entry, ok := c.cache.Read(key, c.ttl); ok && len(entry.Body) > 0 {
			return json.Unmarshal(entry.Body, out)
		}
		if etag := c.cache.GetETag(key); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if c.cache != nil {
			if entry, _ := c.cache.Read(key, 0); entry != nil && len(entry.Body) > 0 {
				return json.Unmarshal(entry.Body, out)
			}
		}
		return fmt.Errorf("304 but no cached body for %s", key)
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode GET %s: %w", p, err)
		}
		if c.cache != nil {
			_ = c.cache.Write(key, &cache.Entry{
				ETag: resp.Header.Get("ETag"),
				Body: json.RawMessage(body),
			})
		}
		return nil
	default:
		b, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(b)}
	}
}

// writeJSON performs a non-GET request with a JSON body and decodes the
// response into out (out may be nil). Writes never store to the cache; each
// write operation invalidates the cached paths for the resources it mutates
// so the next read refetches.
func (c *Client) writeJSON(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newReq(ctx, method, p, nil, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, p, err)
	}
	return nil
}

// invalidate drops the cached GET bodies for paths, any params. A cached
// pre-write body served after a confirmed write would silently revert the
// change on screen.
func (c *Client) invalidate(paths ...string) {
	if c.cache == nil {
		return
	}
	for _, p := range paths {
		c.cache.InvalidatePath(p)
	}
}
