// Package backend is the HTTP client for the tribe REST backend, which owns
// persistence, recurrence expansion and sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appLog "tribecal/internal/log"
	"tribecal/internal/metrics"
	"tribecal/internal/model"
)

// ErrAuthExpired is returned for 401 responses. Session refresh belongs to
// the external auth layer; callers should not surface it as a generic error.
var ErrAuthExpired = errors.New("backend: authentication expired")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("backend: %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is sent as "Authorization: Token <token>" when set.
	Token   string
	Timeout time.Duration
	// RatePerSecond limits outgoing requests; zero disables limiting.
	RatePerSecond float64
	Burst         int
	// CacheDir enables ETag revalidation of GET responses when set.
	CacheDir string
	// HTTPClient overrides the default client (Timeout is then ignored).
	HTTPClient *http.Client
}

// Client talks to the tribe backend. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	cache   *diskCache
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("backend: base URL is empty")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	c := &Client{base: base, token: opts.Token, http: opts.HTTPClient}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if opts.CacheDir != "" {
		c.cache = &diskCache{dir: opts.CacheDir}
	}
	return c, nil
}

type listEnvelope[T any] struct {
	Results []T `json:"results"`
}

// ListEvents returns the materialized events between from and to, both
// already in the backend's timestamp format.
func (c *Client) ListEvents(ctx context.Context, from, to string) ([]model.Event, error) {
	q := url.Values{}
	q.Set("from_date", from)
	q.Set("to_date", to)
	body, err := c.get(ctx, "list_events", "/events/", q)
	if err != nil {
		return nil, err
	}
	return decodeList[model.Event](body)
}

func (c *Client) GetEvent(ctx context.Context, id model.ID) (model.Event, error) {
	body, err := c.get(ctx, "get_event", "/events/"+url.PathEscape(string(id))+"/", nil)
	if err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return model.Event{}, fmt.Errorf("backend: decode event %s: %w", id, err)
	}
	return ev, nil
}

// RespondToEvent posts an RSVP ("accept" or "decline") for the session user.
func (c *Client) RespondToEvent(ctx context.Context, id model.ID, response string) error {
	payload, err := json.Marshal(struct {
		EventResponse string `json:"event_response"`
	}{EventResponse: response})
	if err != nil {
		return err
	}
	path := "/events/response/" + url.PathEscape(string(id)) + "/"
	resp, err := c.do(ctx, "respond_event", http.MethodPost, path, nil, bytes.NewReader(payload), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) ListTribe(ctx context.Context) ([]model.Member, error) {
	body, err := c.get(ctx, "list_tribe", "/tribe/", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[model.Member](body)
}

func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	body, err := c.get(ctx, "list_notifications", "/notifications/", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[model.Notification](body)
}

// decodeList accepts both a bare JSON array and a {"results": [...]} envelope.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("backend: decode list: %w", err)
		}
		return out, nil
	}
	var env listEnvelope[T]
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("backend: decode list: %w", err)
	}
	if env.Results == nil {
		env.Results = []T{}
	}
	return env.Results, nil
}

// get performs a GET, revalidating against the disk cache when enabled.
func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	target := c.resolve(path, q)

	var (
		meta   cacheEntry
		cached []byte
		hit    bool
	)
	header := http.Header{}
	if c.cache != nil {
		meta, cached, hit = c.cache.load(target)
		if hit {
			if meta.ETag != "" {
				header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				header.Set("If-Modified-Since", meta.LastModified)
			}
		}
	}

	resp, err := c.do(ctx, op, http.MethodGet, path, q, nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if !hit {
			return nil, errors.New("backend: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("backend not modified; using cache", "op", op)
		return cached, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read %s: %w", path, err)
	}
	if c.cache != nil && (resp.Header.Get("ETag") != "" || resp.Header.Get("Last-Modified") != "") {
		entry := cacheEntry{
			URL:          target,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := c.cache.save(entry, body); err != nil {
			// The fresh body is still good.
			appLog.Error("backend cache save failed", err, "op", op)
		}
	}
	return body, nil
}

// do sends one request and maps error statuses. On success the caller owns
// resp.Body. 304 is passed through for get to handle.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body io.Reader, header http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, q), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackend(op, 0, start)
		appLog.Error("backend request failed", err, "op", op, "method", method, "path", path, "request_id", reqID)
		return nil, err
	}
	metrics.ObserveBackend(op, resp.StatusCode, start)
	appLog.Debug("backend response", "op", op, "status", resp.StatusCode, "request_id", reqID, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrAuthExpired, method, path)
	case resp.StatusCode == http.StatusNotModified:
		return resp, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

func (c *Client) resolve(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}
