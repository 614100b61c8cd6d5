package model

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-dev/engram/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps a Client with automatic tracing and metrics:
// call counts, latency, token usage, and error recording.
type InstrumentedClient struct {
	inner   Client
	enabled bool
}

// NewInstrumentedClient wraps a client with instrumentation
func NewInstrumentedClient(inner Client) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, enabled: true}
}

func (c *InstrumentedClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	if !c.enabled {
		return c.inner.Complete(ctx, messages, opts...)
	}

	provider := c.inner.Provider()
	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("model.%s.complete", provider),
		trace.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.Int("model.messages_count", len(messages)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.inner.Complete(ctx, messages, opts...)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("model.duration_ms", duration.Milliseconds()),
		attribute.Bool("model.success", err == nil),
	)

	if err != nil {
		span.RecordError(err)
		observability.RecordModelCall(provider, "error", duration)
		return nil, err
	}

	observability.RecordModelCall(provider, "success", duration)
	if resp != nil {
		observability.RecordModelTokens(provider, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		span.SetAttributes(
			attribute.String("model.name", resp.Model),
			attribute.String("model.finish_reason", resp.FinishReason),
			attribute.Int("model.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("model.usage.completion_tokens", resp.Usage.CompletionTokens),
			attribute.Int("model.usage.total_tokens", resp.Usage.TotalTokens),
		)
	}

	return resp, nil
}

func (c *InstrumentedClient) Provider() string {
	return c.inner.Provider()
}

func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

// WrapClient wraps a client with instrumentation if not already wrapped
func WrapClient(client Client) Client {
	if _, ok := client.(*InstrumentedClient); ok {
		return client
	}
	return NewInstrumentedClient(client)
}

// UnwrapClient returns the underlying client if wrapped, otherwise the
// client as-is
func UnwrapClient(client Client) Client {
	if instrumented, ok := client.(*InstrumentedClient); ok {
		return instrumented.inner
	}
	return client
}
