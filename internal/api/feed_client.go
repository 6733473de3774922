//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/fetcher.go -package=mocks . Fetcher

// Package api fetches raw tabular-query responses over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ErrNetwork is returned when a fetch fails or the feed answers with a
// non-success status.
var ErrNetwork = errors.New("feed network error")

// Fetcher retrieves the raw response body of a feed url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ClientConfig holds options for the feed client.
type ClientConfig struct {
	Timeout   time.Duration // Per-request timeout
	RateLimit float64       // Outbound requests per second, 0 disables limiting
	Burst     int           // Maximum outbound burst
	UserAgent string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   30 * time.Second,
		RateLimit: 2.0,
		Burst:     4,
		UserAgent: "tankwatch/1.0",
	}
}

// FeedClient fetches feed responses with resty, throttled by a shared limiter
// so that many sources polled together do not burst the upstream endpoint.
type FeedClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewFeedClient creates a client from cfg.
func NewFeedClient(cfg ClientConfig) *FeedClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &FeedClient{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Fetch performs a GET and returns the body as text.
func (c *FeedClient) Fetch(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: got %d", ErrNetwork, resp.StatusCode())
	}

	return resp.String(), nil
}
