package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/sentichat/internal/observability"
	pobs "github.com/aixgo-dev/sentichat/pkg/observability"
)

// Instrumented wraps a Completion with a span and downstream call metrics.
// Prompt text is never attached to spans.
type Instrumented struct {
	provider Completion
}

// NewInstrumented wraps provider with automatic observability
func NewInstrumented(provider Completion) *Instrumented {
	return &Instrumented{provider: provider}
}

// Name returns the wrapped provider name
func (p *Instrumented) Name() string {
	return p.provider.Name()
}

// Complete implements Completion
func (p *Instrumented) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("llm.%s.completion", p.provider.Name()), map[string]any{
		"llm.provider":       p.provider.Name(),
		"llm.messages_count": len(history) + 1,
		"llm.prompt_chars":   len(prompt),
	})
	defer span.End()

	startTime := time.Now()
	text, err := p.provider.Complete(ctx, prompt, history)
	duration := time.Since(startTime)

	span.SetAttribute("llm.duration_ms", duration.Milliseconds())
	span.SetAttribute("llm.success", err == nil)

	if err != nil {
		span.SetError(err)
		pobs.RecordDownstreamCall("completion", "error", duration)
		return "", err
	}

	span.SetAttribute("llm.response_chars", len(text))
	pobs.RecordDownstreamCall("completion", "ok", duration)
	return text, nil
}
