package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a token-bucket limit on Complete
// calls so one chatty session cannot exhaust a provider quota
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner so Complete waits for limiter capacity.
// A requestsPerSecond of 0 or less disables limiting.
func NewRateLimitedClient(inner Client, requestsPerSecond float64, burst int) *RateLimitedClient {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

func (c *RateLimitedClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("model rate limit: %w", err)
		}
	}
	return c.inner.Complete(ctx, messages, opts...)
}

func (c *RateLimitedClient) Provider() string {
	return c.inner.Provider()
}

func (c *RateLimitedClient) Close() error {
	return c.inner.Close()
}
