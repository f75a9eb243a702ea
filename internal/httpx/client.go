package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Response is a fully read HTTP response. Bodies are buffered so that
// retried attempts never leak connections.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Options configures the client.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ShouldRetry decides whether an attempt is retried; defaults to
	// network errors, 429 and 5xx.
	ShouldRetry func(resp *Response, err error) bool
}

// Client executes HTTP requests through a failsafe retry policy.
type Client struct {
	client   *http.Client
	executor failsafe.Executor[*Response]
}

// DefaultShouldRetry retries on network errors, server errors and rate limits.
func DefaultShouldRetry(resp *Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 300 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay * 16
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = DefaultShouldRetry
	}
	retry := retrypolicy.NewBuilder[*Response]().
		HandleIf(opts.ShouldRetry).
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(opts.MaxRetries).
		ReturnLastFailure().
		Build()
	return &Client{
		client:   &http.Client{Timeout: opts.Timeout},
		executor: failsafe.With[*Response](retry),
	}
}

// Do runs newReq once per attempt and returns the last response. Non-2xx
// statuses are not errors at this layer; callers inspect StatusCode.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	return c.executor.WithContext(ctx).Get(func() (*Response, error) {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	})
}

// DoJSON sends body encoded as JSON (when non-nil) with the given headers.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
}
