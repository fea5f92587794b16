package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aixgo-dev/sentichat/internal/observability"
)

type fakeChatClient struct {
	mu    sync.Mutex
	resp  openai.ChatCompletionResponse
	err   error
	calls []openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func TestOpenAI_Complete(t *testing.T) {
	client := &fakeChatClient{resp: chatResponse("  France is trending up.  ")}
	p := NewOpenAIWithClient(client, OpenAIConfig{})

	got, err := p.Complete(context.Background(), "How is France?", []Message{
		{Role: RoleSystem, Content: "You are an analyst."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "France is trending up.", got)

	require.Len(t, client.calls, 1)
	req := client.calls[0]
	assert.Equal(t, openai.GPT4, req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, DefaultOpenAIMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[3].Role)
	assert.Equal(t, "How is France?", req.Messages[3].Content)
}

func TestOpenAI_ConfigOverrides(t *testing.T) {
	client := &fakeChatClient{resp: chatResponse("ok")}
	p := NewOpenAIWithClient(client, OpenAIConfig{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 50})

	_, err := p.Complete(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.Model())
	assert.Equal(t, "gpt-4o-mini", client.calls[0].Model)
	assert.InDelta(t, 0.2, client.calls[0].Temperature, 1e-6)
	assert.Equal(t, 50, client.calls[0].MaxTokens)
}

func TestOpenAI_Errors(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeChatClient
		wantErr error
	}{
		{"no choices", &fakeChatClient{}, ErrEmptyResponse},
		{"blank content", &fakeChatClient{resp: chatResponse("   ")}, ErrEmptyResponse},
		{"api error", &fakeChatClient{err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}}, nil},
		{"transport error", &fakeChatClient{err: errors.New("connection reset")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpenAIWithClient(tt.client, OpenAIConfig{}).Complete(context.Background(), "q", nil)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.client.err != nil {
				assert.ErrorIs(t, err, tt.client.err)
			}
		})
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)

	p, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestMock(t *testing.T) {
	m := NewMock("fallback")
	m.AddResponse("first", nil)
	m.AddResponse("", errors.New("boom"))

	got, err := m.Complete(context.Background(), "a", []Message{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	_, err = m.Complete(context.Background(), "b", nil)
	assert.EqualError(t, err, "boom")

	got, err = m.Complete(context.Background(), "c", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].Prompt)
	assert.Len(t, calls[0].History, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Complete(ctx, "d", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstrumented(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	observability.Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { _ = observability.Shutdown(context.Background()) })

	m := NewMock("")
	m.AddResponse("answer", nil)
	m.AddResponse("", errors.New("upstream down"))
	p := NewInstrumented(m)

	got, err := p.Complete(context.Background(), "secret prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, "mock", p.Name())

	_, err = p.Complete(context.Background(), "q", nil)
	assert.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "llm.mock.completion", spans[0].Name())
	for _, kv := range spans[0].Attributes() {
		assert.NotContains(t, kv.Value.Emit(), "secret prompt")
	}
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}
