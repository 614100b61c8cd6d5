package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/engram-dev/engram/internal/tokens"
)

// MockClient is a scripted Client for tests and offline development. It
// replays the configured replies in order and echoes the last message once
// they run out.
type MockClient struct {
	mu      sync.Mutex
	replies []string
	next    int
	err     error
	fn      func(ctx context.Context, messages []Message, options Options) (*Response, error)
	calls   [][]Message
}

// NewMockClient creates a mock client that replays the given replies
func NewMockClient(replies ...string) *MockClient {
	return &MockClient{replies: replies}
}

// FailWith makes every subsequent Complete call return err
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// RespondWith installs a custom completion function, overriding the
// scripted replies
func (m *MockClient) RespondWith(fn func(ctx context.Context, messages []Message, options Options) (*Response, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]Message, len(messages))
	copy(recorded, messages)
	m.calls = append(m.calls, recorded)

	if m.fn != nil {
		return m.fn(ctx, messages, buildOptions("mock-model", opts))
	}

	if m.err != nil {
		return nil, m.err
	}

	var content string
	switch {
	case m.next < len(m.replies):
		content = m.replies[m.next]
		m.next++
	case len(messages) > 0:
		content = fmt.Sprintf("ack: %s", messages[len(messages)-1].Content)
	default:
		content = "ack"
	}

	var promptTokens int
	for _, msg := range messages {
		promptTokens += tokens.Estimate(msg.Content)
	}
	completionTokens := tokens.Estimate(content)

	return &Response{
		Content:      content,
		FinishReason: "stop",
		Model:        "mock-model",
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// CallCount returns the number of Complete calls seen so far
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the messages passed to the most recent Complete call
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func (m *MockClient) Provider() string {
	return "mock"
}

func (m *MockClient) Close() error {
	return nil
}
