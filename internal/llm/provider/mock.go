package provider

import (
	"context"
	"sync"
)

// MockCall records one Complete invocation
type MockCall struct {
	Prompt  string
	History []Message
}

// Mock is a Completion returning queued responses, for tests and offline runs
type Mock struct {
	responses []string
	errors    []error
	calls     []MockCall
	callIndex int
	fallback  string
	mu        sync.Mutex
}

// NewMock creates a mock that answers fallback once its queue is exhausted
func NewMock(fallback string) *Mock {
	return &Mock{fallback: fallback}
}

// Name returns the provider name
func (m *Mock) Name() string {
	return "mock"
}

// Complete implements Completion
func (m *Mock) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Prompt:  prompt,
		History: append([]Message(nil), history...),
	})

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if m.callIndex >= len(m.responses) {
		return m.fallback, nil
	}

	resp := m.responses[m.callIndex]
	err := m.errors[m.callIndex]
	m.callIndex++
	return resp, err
}

// AddResponse queues a response to return from Complete
func (m *Mock) AddResponse(resp string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

// Calls returns all recorded calls to Complete
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}
