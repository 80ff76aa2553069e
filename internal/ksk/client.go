package ksk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kskmon/kskmon/internal/metrics"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ClientConfig configures the upstream HTTP transport.
type ClientConfig struct {
	BaseURL   string
	SiteURL   string // Origin/Referer the web client sends
	RateLimit float64
	RateBurst int
}

// Client is the authenticated HTTP transport for the KSK API. It owns the
// Session: every request carries the current bearer token and cookies, the
// authenticator installs a new Session on sign-in and the coordinator
// clears it when the upstream answers 401.
type Client struct {
	baseURL string
	siteURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	session *Session
}

// NewClient builds a transport. The HTTP client carries no global timeout;
// per-attempt timeouts come from the retry wrapper's contexts.
func NewClient(cfg ClientConfig, logger logrus.FieldLogger, m *metrics.Metrics) *Client {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		siteURL: strings.TrimRight(cfg.SiteURL, "/"),
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		logger:  logger,
		metrics: m,
	}
}

// Session returns the current session, or nil when unauthenticated.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession installs the session used for subsequent requests.
func (c *Client) SetSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// ClearSession drops the session so the next cycle re-authenticates.
func (c *Client) ClearSession() {
	c.SetSession(nil)
}

type rawResponse struct {
	Status  int
	Body    []byte
	Cookies []*http.Cookie
}

// do issues one request and returns the response regardless of status
// code. The returned error covers network-level failures only; status
// mapping is the caller's business.
func (c *Client) do(ctx context.Context, method, path string, body any) (*rawResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")
	if c.siteURL != "" {
		req.Header.Set("Origin", c.siteURL)
		req.Header.Set("Referer", c.siteURL+"/")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s := c.Session(); s != nil {
		if s.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.Token)
		}
		if cookie := joinCookies(s.Cookies); cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &rawResponse{
		Status:  resp.StatusCode,
		Body:    data,
		Cookies: resp.Cookies(),
	}, nil
}

// Request issues an authenticated call and maps the status code to the
// error taxonomy: 401 becomes UnauthorizedError, every other non-2xx or
// network failure becomes TransportError. op labels the request metrics;
// paths carry account numbers and would grow one series per account.
func (c *Client) Request(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(op, "network").Inc()
		return nil, &TransportError{Endpoint: path, Err: err}
	}

	switch {
	case resp.Status == http.StatusUnauthorized:
		c.metrics.APIRequests.WithLabelValues(op, "unauthorized").Inc()
		return nil, &UnauthorizedError{Endpoint: path}
	case resp.Status < 200 || resp.Status > 299:
		c.metrics.APIRequests.WithLabelValues(op, "error").Inc()
		return nil, &TransportError{
			Endpoint:   path,
			StatusCode: resp.Status,
			Err:        fmt.Errorf("unexpected status %d", resp.Status),
		}
	}

	c.metrics.APIRequests.WithLabelValues(op, "ok").Inc()
	return resp.Body, nil
}

func joinCookies(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}
