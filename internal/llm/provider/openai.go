package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIModel       = openai.GPT4
	DefaultOpenAITemperature = 0.7
	DefaultOpenAIMaxTokens   = 1000
)

// OpenAIClient is the slice of the go-openai client used here
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the OpenAI provider
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAI implements Completion with the chat completions API
type OpenAI struct {
	client      OpenAIClient
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates a provider backed by the real API
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), cfg), nil
}

// NewOpenAIWithClient creates a provider with a custom client (useful for testing)
func NewOpenAIWithClient(client OpenAIClient, cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultOpenAITemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultOpenAIMaxTokens
	}
	return &OpenAI{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

// Name returns the provider name
func (p *OpenAI) Name() string {
	return "openai"
}

// Model returns the configured model
func (p *OpenAI) Model() string {
	return p.model
}

// Complete implements Completion
func (p *OpenAI) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai API error (status %d): %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
