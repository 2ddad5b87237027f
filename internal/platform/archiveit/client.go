// Package archiveit implements the archive.Extractor capability set against the Archive-It partner
// API, its WASAPI file listing and the Wayback replay service.
package archiveit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// ClientConfig controls credentials, timeouts, retries and pacing.
type ClientConfig struct {
	Username  string
	Password  string
	UserAgent string
	// Timeout bounds a whole request including the body; zero leaves it to the transport.
	Timeout           time.Duration
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	RequestsPerSecond float64
	Transport         http.RoundTripper
}

// Client wraps outbound platform calls with Basic credentials. It holds no state beyond
// credentials, the connection pool and the request pacer.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	retry   *retryPolicy
	logger  *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger,
	}
}

// AuthorizationHeader returns the Basic credential header value.
func (c *Client) AuthorizationHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	return "Basic " + token
}

// UserAgent returns the configured user agent.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

// Wait blocks until the pacer admits one more request.
func (c *Client) Wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Do issues an idempotent request, retrying transient failures. Non-2xx responses come back as
// *archive.StatusError with the body closed; a 2xx response is returned open.
func (c *Client) Do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, method, rawURL)
		if err == nil {
			return resp, nil
		}
		if !c.retry.ShouldRetry(ctx, err, attempt) {
			return nil, err
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Debug("retrying platform request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) once(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.AuthorizationHeader())
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, rawURL, archive.ErrNetwork, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		drainAndClose(resp.Body)
		return nil, &archive.StatusError{Method: method, URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Head performs an existence check.
func (c *Client) Head(ctx context.Context, rawURL string) error {
	resp, err := c.Do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// GetJSON fetches rawURL and decodes the body into dest.
func (c *Client) GetJSON(ctx context.Context, rawURL string, dest any) error {
	resp, err := c.Do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w: %w", rawURL, archive.ErrNetwork, err)
	}
	return nil
}

// Download opens a streaming body for rawURL; the caller closes it.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
