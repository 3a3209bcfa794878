package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/disputebot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 5
	defaultTimeout    = 10 * time.Second

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Event types sent in the envelope.
const (
	EventResolution = "dispute.resolved"
	EventFailure    = "dispute.resolution_failed"
)

// Envelope is the JSON body POSTed for every publication.
type Envelope struct {
	Type    string                `json:"type"`
	SentAt  time.Time             `json:"sent_at"`
	Report  *domain.Report        `json:"report,omitempty"`
	Failure *domain.FailureNotice `json:"failure,omitempty"`
}

// Client implements ports.Publisher by POSTing JSON to a webhook, with rate
// limiting and retries.
type Client struct {
	http      *http.Client
	url       string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRate caps requests per second.
func WithRate(perSec float64) Option {
	return func(c *Client) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithRetryWait sets the base backoff between attempts.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient creates a Client posting to url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: defaultTimeout},
		url:       url,
		limiter:   rate.NewLimiter(defaultRatePerSec, 1),
		retryWait: baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublishReport sends a dispute.resolved event.
func (c *Client) PublishReport(ctx context.Context, r domain.Report) error {
	if err := c.post(ctx, Envelope{Type: EventResolution, SentAt: time.Now().UTC(), Report: &r}); err != nil {
		return fmt.Errorf("webhook.PublishReport %s/%s: %w", r.Scope, r.Name, err)
	}
	return nil
}

// PublishFailure sends a dispute.resolution_failed event.
func (c *Client) PublishFailure(ctx context.Context, n domain.FailureNotice) error {
	if err := c.post(ctx, Envelope{Type: EventFailure, SentAt: time.Now().UTC(), Failure: &n}); err != nil {
		return fmt.Errorf("webhook.PublishFailure %s/%s: %w", n.Scope, n.Name, err)
	}
	return nil
}

// post sends body as JSON with rate limiting and retries.
func (c *Client) post(ctx context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
}

// doWithRetry runs fn with exponential backoff. 429 and 5xx are retried, other
// 4xx fail at once.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error)) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			drain(resp)
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("webhook retry", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		drain(resp)
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, honoring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
