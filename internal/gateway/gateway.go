// Package gateway holds the HTTP plumbing shared by the off-chain gateway
// clients: retries, rate limiting and error classification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps how much of a gateway response is read
const maxBodyBytes = 4 << 20

// Error is a non-2xx gateway answer
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Config tunes a Caller
type Config struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RateLimit    float64 // requests per second, 0 disables limiting
	Burst        int
}

// Caller posts JSON to a gateway with bounded retries
type Caller struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCaller builds a Caller. Transport errors and 5xx answers are retried;
// after the last attempt the final response is passed through unchanged.
func NewCaller(cfg Config, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Caller{cfg: cfg, client: newRetryClient(cfg, logger), logger: logger}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func newRetryClient(cfg Config, logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.HTTPClient.Timeout = timeout
	return client
}

// WithoutRetries returns a Caller that sends each request exactly once,
// sharing c's rate limiter. Requests that create state on the gateway go
// through it so a lost response cannot produce a duplicate.
func (c *Caller) WithoutRetries() *Caller {
	cfg := c.cfg
	cfg.RetryMax = 0
	return &Caller{cfg: cfg, client: newRetryClient(cfg, c.logger), limiter: c.limiter, logger: c.logger}
}

// PostJSON sends payload as JSON and returns the raw 2xx response body
func (c *Caller) PostJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// IsRetryable reports whether err is worth another attempt later:
// throttling, 5xx answers, timeouts and transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode == http.StatusTooManyRequests || gwErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// AgentURL renders {base}/ipfs/{cid}?key={secret}
func AgentURL(base, cid, secret string) string {
	u := strings.TrimRight(base, "/") + "/ipfs/" + url.PathEscape(cid)
	if secret != "" {
		u += "?" + url.Values{"key": {secret}}.Encode()
	}
	return u
}
