package llm

import (
	"context"
	"strings"
	"sync"
)

// DefaultMockReply is what a MockClient answers when Reply is empty.
const DefaultMockReply = "mock response"

// MockClient is an in-process Client for tests. It answers
// with Reply unless CompleteFunc or StreamFunc is set, and keeps every
// request it was sent so callers can inspect the prompts they built.
type MockClient struct {
	Reply        string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.record(req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return m.response(req), nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	m.record(req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	resp := m.response(req)
	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Type: EventDelta, Content: resp.Content}
	ch <- StreamEvent{Type: EventDone, Response: resp}
	close(ch)
	return ch, nil
}

// Requests returns a copy of every request received, oldest first.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockClient) LastRequest() (CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return CompletionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *MockClient) record(req CompletionRequest) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
}

// response sizes usage by whitespace-separated words.
func (m *MockClient) response(req CompletionRequest) *CompletionResponse {
	reply := m.Reply
	if reply == "" {
		reply = DefaultMockReply
	}
	in := len(strings.Fields(req.System))
	for _, msg := range req.Messages {
		in += len(strings.Fields(msg.Content))
	}
	return &CompletionResponse{
		Content: reply,
		Model:   req.Model,
		Usage:   Usage{InputTokens: in, OutputTokens: len(strings.Fields(reply))},
	}
}
