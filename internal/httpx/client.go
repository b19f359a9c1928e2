// Package httpx holds the request plumbing shared by provider adapters and
// the backend client: retries, throttling and timeout classification.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"inkwell/internal/metrics"
)

const maxBodySize = 4 << 20

type Config struct {
	// HTTPClient must not carry a Timeout: streams are unbounded.
	HTTPClient  *http.Client
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	Limiter     *rate.Limiter
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Client{cfg: cfg}
}

func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

type Request struct {
	Provider string
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// Do sends a one-shot request bounded by the configured timeout and returns
// the body of the 2xx response.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.send(callCtx, req)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, Classify(ctx, fmt.Errorf("read response body: %w", err))
	}
	return b, nil
}

// Open sends a request and returns the 2xx response with its body unread.
// There is no timeout; the stream lives until ctx ends. The caller closes
// the body.
func (c *Client) Open(ctx context.Context, req Request) (*http.Response, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	if fn, ok := ctx.Value(responseHookKey{}).(func()); ok && fn != nil {
		fn()
	}
	return resp, nil
}

type responseHookKey struct{}

// WithResponseHook returns a context under which Open calls fn once the 2xx
// response headers have arrived, before any of the body is read.
func WithResponseHook(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, responseHookKey{}, fn)
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.cfg.Metrics.ProviderRetries.WithLabelValues(req.Provider).Inc()
			backoff := c.cfg.BackoffBase * (1 << (attempt - 1))
			c.cfg.Logger.Debug().
				Str("provider", req.Provider).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, retry, err := c.callOnce(ctx, req)
		if err == nil {
			c.cfg.Metrics.ProviderRequests.WithLabelValues(req.Provider, "ok").Inc()
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			c.cfg.Metrics.ProviderRequests.WithLabelValues(req.Provider, "canceled").Inc()
			return nil, err
		}
		if !retry {
			break
		}
	}
	c.cfg.Metrics.ProviderRequests.WithLabelValues(req.Provider, "error").Inc()
	return nil, lastErr
}

func (c *Client) callOnce(ctx context.Context, r Request) (resp *http.Response, retry bool, err error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err = c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, false, nil
	}

	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	serr := &StatusError{
		Provider: r.Provider,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(b)),
	}
	return nil, serr.Temporary(), serr
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Status == status
}
