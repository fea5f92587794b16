package intent

import (
	"regexp"
	"slices"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
)

var (
	chartCueRe     = regexp.MustCompile(`(?i)\b(?:show|plot|chart|visuali[sz]e|graph|display|draw|trends?|compare)\b`)
	continuationRe = regexp.MustCompile(`(?i)\b(?:also|now|then|instead|add|too|as well|what about|how about|and for|and in|same for|plus|along with)\b`)
	additiveRe     = regexp.MustCompile(`(?i)\b(?:add|also|too|as well|plus|along with)\b`)
	replaceRe      = regexp.MustCompile(`(?i)\b(?:instead|only|just)\b`)
)

// Extractor parses messages into intents. It is safe for concurrent use.
type Extractor struct {
	now  func() time.Time
	span func() DateRange
	bulk func(string) bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the clock relative dates are resolved against.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// WithDatasetSpan clamps recognized ranges to the span of the dataset. span
// is read on every Extract so a reloaded dataset takes effect at once.
func WithDatasetSpan(span func() DateRange) Option {
	return func(e *Extractor) {
		e.span = span
	}
}

// WithBulkMatcher replaces the bulk export detector.
func WithBulkMatcher(match func(string) bool) Option {
	return func(e *Extractor) {
		e.bulk = match
	}
}

// NewExtractor creates an Extractor. Bulk export detection defaults to the
// guardrail data extraction vocabulary.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		now: time.Now,
		bulk: func(text string) bool {
			return guardrail.MatchesCategory(text, guardrail.CategoryDataExtraction)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads text against the prior intent of the session, if any.
//
// A message is a follow-up when a prior intent exists and the text carries a
// continuation cue. Follow-ups inherit every field the text does not set
// itself. New countries replace the prior ones unless the text is additive
// ("add", "also", "too"), in which case they are appended.
func (e *Extractor) Extract(text string, prior *Intent) Intent {
	countries, spans := findCountries(text)
	region := mentionsRegion(text, spans)

	dates := parseDateRange(text, e.now())
	if dates != nil && e.span != nil {
		dates = clamp(dates, e.span())
	}

	followUp := prior != nil && continuationRe.MatchString(text)

	out := Intent{
		WantsBulkExport: e.bulk != nil && e.bulk(text),
		FollowUp:        followUp,
	}

	switch {
	case len(countries) > 0 && followUp && additiveRe.MatchString(text) && !replaceRe.MatchString(text):
		out.Countries = union(prior.Countries, countries)
	case len(countries) > 0:
		out.Countries = countries
	case followUp:
		out.Countries = slices.Clone(prior.Countries)
	default:
		out.Countries = []string{}
	}

	switch {
	case dates != nil:
		out.DateRange = dates
	case followUp && prior.DateRange != nil:
		r := *prior.DateRange
		out.DateRange = &r
	}

	if followUp && !region && len(countries) == 0 && prior.ChartType == ChartRegional {
		region = true
	}

	hasReference := len(out.Countries) > 0 || region || out.DateRange != nil
	switch {
	case chartCueRe.MatchString(text) && hasReference:
		out.WantsChart = true
	case followUp && prior.WantsChart:
		out.WantsChart = true
	}

	if out.WantsChart {
		out.ChartType = chartTypeFor(out.Countries, region)
	}
	return out
}

func chartTypeFor(countries []string, region bool) ChartType {
	switch {
	case region:
		return ChartRegional
	case len(countries) > 1:
		return ChartComparison
	default:
		return ChartTimeSeries
	}
}

func union(prior, next []string) []string {
	out := slices.Clone(prior)
	for _, c := range next {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
