// Package httpclient implements the plain-HTTP fetch mode: connection
// pooling, gzip, per-host rate limiting, and exponential backoff on
// transient failures.
package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"NormScanner/internal/metrics"
	"NormScanner/internal/ports"
)

const maxBodyBytes = 32 << 20 // 32 MiB guards against runaway gazette PDFs

// Client is a rate-limited HTTP fetcher with retry.
type Client struct {
	http       *http.Client
	gate       *HostGate
	userAgent  string
	maxRetries int
	logger     *slog.Logger
}

var _ ports.Fetcher = (*Client)(nil)

// Options tunes a Client; zero values fall back to sane defaults.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
}

// New wires a Client around a shared per-host gate.
func New(gate *HostGate, opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "NormScanner/1.0"
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:       gate,
		userAgent:  agent,
		maxRetries: retries,
		logger:     logger,
	}
}

// Fetch retrieves url, retrying transient failures with exponential backoff
// and honoring Retry-After on 429/503 responses.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*ports.FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: FailTransport, URL: rawURL, Err: err}
	}
	host := parsed.Host

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Reset()

	var lastErr *FetchError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			if lastErr != nil && lastErr.Kind == FailHTTPStatus {
				if ra := lastErr.retryAfter; ra > wait {
					wait = ra
				}
			}
			if c.logger != nil {
				c.logger.Debug("retrying fetch", "url", rawURL, "attempt", attempt, "wait", wait)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &FetchError{Kind: FailTimeout, URL: rawURL, Err: ctx.Err()}
			}
		}

		result, ferr := c.fetchOnce(ctx, rawURL, host)
		if ferr == nil {
			metrics.HTTPRequests.WithLabelValues(host, "ok").Inc()
			return result, nil
		}
		metrics.HTTPRequests.WithLabelValues(host, string(ferr.Kind)).Inc()
		if !ferr.Retryable() {
			return nil, ferr
		}
		lastErr = ferr
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL, host string) (*ports.FetchResult, *FetchError) {
	release, err := c.gate.Acquire(ctx, host)
	if err != nil {
		return nil, &FetchError{Kind: FailTimeout, URL: rawURL, Err: err}
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FailTransport, URL: rawURL, Err: err}
	}
	// Transparent gzip stays enabled by not setting Accept-Encoding manually.
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		ferr := &FetchError{Kind: FailHTTPStatus, URL: rawURL, StatusCode: resp.StatusCode}
		ferr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, ferr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &ports.FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

func classifyTransport(rawURL string, err error) *FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Kind: FailTimeout, URL: rawURL, Err: err}
	}
	return &FetchError{Kind: FailTransport, URL: rawURL, Err: err}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
