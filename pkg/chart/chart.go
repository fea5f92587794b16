// Package chart holds the normalized query objects the pipeline hands to its
// collaborators, and the validation applied before a chart is rendered.
package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aixgo-dev/sentichat/pkg/intent"
)

const (
	// MaxCountries is the most countries a single chart may plot.
	MaxCountries = 10
	// MaxTitleLength bounds titles, in characters.
	MaxTitleLength = 200
	// DefaultTitle is used when a request carries no title.
	DefaultTitle = "Sentiment Trends"
)

var (
	ErrNoCountries      = errors.New("at least one country must be specified")
	ErrTooManyCountries = fmt.Errorf("maximum %d countries allowed per chart", MaxCountries)
	ErrUnknownCountry   = errors.New("country not available")
	ErrInvalidDateRange = errors.New("start date must not be after end date")
	ErrRangeOutsideSpan = errors.New("date range does not overlap the available data")
)

// Spec is a normalized chart request.
type Spec struct {
	Countries []string         `json:"countries"`
	DateRange intent.DateRange `json:"date_range"`
	ChartType intent.ChartType `json:"chart_type"`
	Title     string           `json:"title"`
}

// DataQuery is a normalized request for aggregated figures. A nil DateRange
// means the full span of the dataset.
type DataQuery struct {
	Countries []string          `json:"countries"`
	DateRange *intent.DateRange `json:"date_range,omitempty"`
}

// Renderer draws a validated Spec and returns the encoded image.
type Renderer interface {
	Render(ctx context.Context, spec Spec) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, spec Spec) ([]byte, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, spec Spec) ([]byte, error) {
	return f(ctx, spec)
}

// NewSpec builds a chart request from countries and a resolved range, with a
// generated title such as "Sentiment: France, Germany (2020-01-01 to 2024-12-31)".
func NewSpec(countries []string, r intent.DateRange, t intent.ChartType) Spec {
	if !t.Valid() {
		t = intent.ChartTimeSeries
	}
	return Spec{
		Countries: append([]string{}, countries...),
		DateRange: r,
		ChartType: t,
		Title:     Title(countries, r),
	}
}

// Title names the countries and the period of a chart.
func Title(countries []string, r intent.DateRange) string {
	names := make([]string, len(countries))
	for i, c := range countries {
		names[i] = intent.CountryName(c)
	}
	subject := strings.Join(names, ", ")
	if subject == "" {
		subject = "no countries"
	}
	return truncate(fmt.Sprintf("Sentiment: %s (%s)", subject, r.String()), MaxTitleLength)
}

// Validate normalizes spec against the countries and span of the data.
// Countries may be given as codes or names and come back as codes. An
// unknown chart type becomes time_series, a missing title gets the default,
// long titles are cut, open bounds are filled from span and the range is
// clamped to it.
func Validate(spec Spec, available []string, span intent.DateRange) (Spec, error) {
	if len(spec.Countries) == 0 {
		return Spec{}, ErrNoCountries
	}
	if len(spec.Countries) > MaxCountries {
		return Spec{}, ErrTooManyCountries
	}

	known := make(map[string]bool, len(available))
	for _, c := range available {
		known[c] = true
	}
	out := Spec{Countries: make([]string, 0, len(spec.Countries))}
	seen := make(map[string]bool, len(spec.Countries))
	for _, raw := range spec.Countries {
		c, ok := intent.LookupCountry(raw)
		if !ok || !known[c.Code] {
			return Spec{}, fmt.Errorf("%w: %s", ErrUnknownCountry, raw)
		}
		if !seen[c.Code] {
			seen[c.Code] = true
			out.Countries = append(out.Countries, c.Code)
		}
	}

	r := spec.DateRange.Resolve(span)
	if r.Start.After(r.End) {
		return Spec{}, ErrInvalidDateRange
	}
	if r.End.Before(span.Start) || r.Start.After(span.End) {
		return Spec{}, fmt.Errorf("%w: %s", ErrRangeOutsideSpan, span.String())
	}
	if r.Start.Before(span.Start) {
		r.Start = span.Start
	}
	if r.End.After(span.End) {
		r.End = span.End
	}
	out.DateRange = r

	out.ChartType = spec.ChartType
	if !out.ChartType.Valid() {
		out.ChartType = intent.ChartTimeSeries
	}

	out.Title = strings.TrimSpace(spec.Title)
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	out.Title = truncate(out.Title, MaxTitleLength)
	return out, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
