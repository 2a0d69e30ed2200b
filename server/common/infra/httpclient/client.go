package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	commonlog "umrah_portal/server/common/log"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxRetries   = 2
	defaultRetryDelay   = time.Second
	defaultBreakerTrips = 5
	defaultBreakerOpen  = 30 * time.Second
	maxResponseBytes    = 16 << 20
)

var ErrNoEndpoint = errors.New("api endpoint is not configured")

type Config struct {
	BaseURL      string
	FallbackURLs []string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Token       string
	Header      http.Header
	Body        []byte
	ContentType string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Endpoint   string
}

// StatusError reports a response the server answered with a retryable status.
type StatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d endpoint=%s", e.StatusCode, e.Endpoint)
}

// Client sends requests to the primary API host and, on retry, to the
// configured fallback hosts. Attempt n waits RetryDelay*n before it is sent.
type Client struct {
	endpoints  []string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

func New(cfg Config) *Client {
	endpoints := normalizeEndpoints(append([]string{cfg.BaseURL}, cfg.FallbackURLs...))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Client{
		endpoints:  endpoints,
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		sleep:      sleepContext,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*Response], len(endpoints)),
	}
}

// BaseURL returns the primary host.
func (c *Client) BaseURL() string {
	if len(c.endpoints) == 0 {
		return ""
	}
	return c.endpoints[0]
}

// Do sends req, retrying transport failures, 5xx, 408 and 429. Any other
// status, including 401 and 403, is returned to the caller as is.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if len(c.endpoints) == 0 {
		return nil, ErrNoEndpoint
	}

	var (
		lastErr  error
		lastResp *Response
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
		endpoint := c.endpointFor(attempt)
		resp, err := c.send(ctx, endpoint, req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
		}
		if resp != nil {
			lastResp = resp
		}
		lastErr = err
		commonlog.Warnf("event=api_request action=retry status=failed method=%s path=%s endpoint=%s attempt=%d error=%v", req.Method, req.Path, endpoint, attempt, err)
	}

	if lastResp != nil {
		return lastResp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("api request failed")
	}
	return nil, lastErr
}

func (c *Client) endpointFor(attempt int) string {
	if attempt >= len(c.endpoints) {
		return c.endpoints[len(c.endpoints)-1]
	}
	return c.endpoints[attempt]
}

func (c *Client) send(ctx context.Context, endpoint string, req Request) (*Response, error) {
	return c.breakerFor(endpoint).Execute(func() (*Response, error) {
		resp, err := c.roundTrip(ctx, endpoint, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
		}
		return resp, nil
	})
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := endpoint + normalizePath(req.Path)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token := strings.TrimSpace(req.Token); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api request failed endpoint=%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read api response endpoint=%s: %w", endpoint, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload, Endpoint: endpoint}, nil
}

func (c *Client) breakerFor(endpoint string) *gobreaker.CircuitBreaker[*Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     defaultBreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			commonlog.Warnf("event=api_breaker action=transition endpoint=%s from=%s to=%s", name, from.String(), to.String())
		},
	})
	c.breakers[endpoint] = cb
	return cb
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func normalizePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
