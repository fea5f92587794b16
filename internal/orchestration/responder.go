package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aixgo-dev/sentichat/internal/llm/prompt"
	"github.com/aixgo-dev/sentichat/internal/llm/provider"
	"github.com/aixgo-dev/sentichat/internal/observability"
	"github.com/aixgo-dev/sentichat/pkg/chart"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	pobs "github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/aixgo-dev/sentichat/pkg/session"
	"github.com/sirupsen/logrus"
)

// Defaults for NewResponder.
const (
	DefaultCallTimeout     = 30 * time.Second
	DefaultHistoryTurns    = 10
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

var errNoCompletion = errors.New("no completion provider configured")

// Responder answers allowed messages from dataset aggregates, the completion
// provider and the chart renderer. Only aggregates ever reach the provider.
type Responder struct {
	data         dataset.Store
	completion   provider.Completion
	renderer     chart.Renderer
	timeout      time.Duration
	historyTurns int
	failures     int
	cooldown     time.Duration
	logger       logrus.FieldLogger

	completionBreaker *CircuitBreaker
	rendererBreaker   *CircuitBreaker
}

// ResponderOption configures a Responder
type ResponderOption func(*Responder)

// WithCompletion sets the completion provider. Without one answers are built
// from the aggregates alone.
func WithCompletion(c provider.Completion) ResponderOption {
	return func(r *Responder) {
		r.completion = c
	}
}

// WithRenderer sets the chart renderer. Without one chart answers carry the
// validated spec and no image.
func WithRenderer(cr chart.Renderer) ResponderOption {
	return func(r *Responder) {
		r.renderer = cr
	}
}

// WithCallTimeout bounds each completion and render call.
func WithCallTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		r.timeout = d
	}
}

// WithHistoryTurns sets how many previous turns are sent with a prompt.
func WithHistoryTurns(n int) ResponderOption {
	return func(r *Responder) {
		r.historyTurns = n
	}
}

// WithBreaker sets the failure threshold and cooldown of the downstream
// circuit breakers.
func WithBreaker(failures int, cooldown time.Duration) ResponderOption {
	return func(r *Responder) {
		r.failures = failures
		r.cooldown = cooldown
	}
}

// WithResponderLogger sets the logger
func WithResponderLogger(l logrus.FieldLogger) ResponderOption {
	return func(r *Responder) {
		r.logger = l
	}
}

// NewResponder creates a Responder over data.
func NewResponder(data dataset.Store, opts ...ResponderOption) *Responder {
	r := &Responder{
		data:         data,
		timeout:      DefaultCallTimeout,
		historyTurns: DefaultHistoryTurns,
		failures:     DefaultBreakerFailures,
		cooldown:     DefaultBreakerCooldown,
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.completionBreaker = NewCircuitBreaker("completion", r.failures, r.cooldown)
	r.rendererBreaker = NewCircuitBreaker("renderer", r.failures, r.cooldown)
	return r
}

// Status reports the downstream circuit breakers for the health endpoint. It
// fails while the completion circuit is open; answers are then built from the
// aggregates alone.
func (r *Responder) Status(_ context.Context) (map[string]any, error) {
	completion := r.completionBreaker.State()
	details := map[string]any{
		"completion_configured": r.completion != nil,
		"completion_circuit":    completion.String(),
		"renderer_configured":   r.renderer != nil,
		"renderer_circuit":      r.rendererBreaker.State().String(),
	}
	if completion == CircuitOpen {
		return details, fmt.Errorf("completion: %w", ErrCircuitOpen)
	}
	return details, nil
}

// Answer implements Answerer.
func (r *Responder) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	if req.ChartSpec != nil {
		return r.answerChart(ctx, req)
	}
	dq := chart.DataQuery{}
	if req.DataQuery != nil {
		dq = *req.DataQuery
	}
	return r.answerData(ctx, req, dq)
}

func (r *Responder) answerData(ctx context.Context, req AnswerRequest, dq chart.DataQuery) (*Answer, error) {
	summaries, missing, err := r.summarize(ctx, dq.Countries, dq.DateRange)
	if err != nil {
		return nil, err
	}

	period := dq.DateRange
	if period != nil {
		resolved := period.Resolve(r.data.Span())
		period = &resolved
	}
	summary := prompt.FormatSummaries(summaries, period)
	if len(missing) > 0 {
		summary += fmt.Sprintf(" | Not covered by the dataset: %s", countryList(missing))
	}

	ans := &Answer{Summaries: summaries}
	text, err := r.complete(ctx, prompt.DataQuery(req.Text, summary), req.History)
	if err != nil {
		r.warnCompletion(err)
		text = "Here is what the data shows. " + summary
	}
	ans.Text = guardrail.SanitizeResponse(text)
	return ans, nil
}

func (r *Responder) answerChart(ctx context.Context, req AnswerRequest) (*Answer, error) {
	spec, err := chart.Validate(*req.ChartSpec, r.data.Countries(), r.data.Span())
	if err != nil {
		return &Answer{
			Text:       fmt.Sprintf("I couldn't prepare that chart: %s.", err),
			ChartError: err.Error(),
		}, nil
	}

	ans := &Answer{ChartSpec: &spec}
	if r.renderer != nil {
		img, err := r.render(ctx, spec)
		if err != nil {
			r.logger.WithError(err).Warn("chart rendering failed")
			ans.ChartError = "chart rendering failed"
		} else {
			ans.ChartImage = img
		}
	}

	summaries, err := r.data.Query(ctx, spec.Countries, &spec.DateRange)
	if err != nil {
		return nil, fmt.Errorf("query chart data: %w", err)
	}
	ans.Summaries = summaries
	summary := prompt.FormatSummaries(summaries, &spec.DateRange)

	text, err := r.complete(ctx, prompt.ChartCaption(req.Text, spec.ChartType, spec.Title, summary), req.History)
	if err != nil {
		r.warnCompletion(err)
		text = spec.Title + ". " + summary
	}
	ans.Text = guardrail.SanitizeResponse(text)
	return ans, nil
}

// summarize queries the countries the dataset covers and returns the others
// separately.
func (r *Responder) summarize(ctx context.Context, countries []string, dr *intent.DateRange) ([]dataset.Summary, []string, error) {
	covered := make(map[string]bool)
	for _, c := range r.data.Countries() {
		covered[c] = true
	}
	var known, missing []string
	for _, c := range countries {
		if covered[c] {
			known = append(known, c)
		} else {
			missing = append(missing, c)
		}
	}
	if len(known) == 0 {
		return nil, missing, nil
	}
	summaries, err := r.data.Query(ctx, known, dr)
	if errors.Is(err, dataset.ErrInvalidRange) {
		return nil, missing, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query data: %w", err)
	}
	return summaries, missing, nil
}

func (r *Responder) complete(ctx context.Context, userPrompt string, turns []session.Turn) (string, error) {
	if r.completion == nil {
		return "", errNoCompletion
	}
	if n := r.historyTurns; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	history := prompt.History(prompt.System(r.data.Countries(), r.data.Span()), turns)

	var text string
	err := r.completionBreaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		text, err = r.completion.Complete(callCtx, userPrompt, history)
		return err
	})
	return text, err
}

func (r *Responder) warnCompletion(err error) {
	if !errors.Is(err, errNoCompletion) {
		r.logger.WithError(err).Warn("completion failed, answering from aggregates")
	}
}

func (r *Responder) render(ctx context.Context, spec chart.Spec) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "chart.render", map[string]any{
		"chart.type":      string(spec.ChartType),
		"chart.countries": spec.Countries,
	})
	defer span.End()

	start := time.Now()
	var img []byte
	err := r.rendererBreaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		img, err = r.renderer.Render(callCtx, spec)
		return err
	})
	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "rejected"
		span.SetError(err)
	case err != nil:
		status = "error"
		span.SetError(err)
	}
	pobs.RecordDownstreamCall("renderer", status, time.Since(start))
	return img, err
}
