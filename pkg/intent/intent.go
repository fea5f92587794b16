// Package intent turns a free-text question about the sentiment dataset into a
// structured query: which countries, what period, and whether a chart is
// wanted.
package intent

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// DateLayout is the day-granular layout used for ranges.
const DateLayout = "2006-01-02"

// ChartType is the kind of chart a message asks for.
type ChartType string

const (
	ChartNone       ChartType = ""
	ChartTimeSeries ChartType = "time_series"
	ChartComparison ChartType = "comparison"
	ChartRegional   ChartType = "regional"
)

// Valid reports whether t is one of the known chart types.
func (t ChartType) Valid() bool {
	switch t {
	case ChartTimeSeries, ChartComparison, ChartRegional:
		return true
	}
	return false
}

// DateRange is an inclusive range of days. A zero Start or End is an open
// bound, filled in later from the dataset span.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// String renders the range as "2020-01-01 to 2024-12-31".
func (r DateRange) String() string {
	start, end := "open", "open"
	if !r.Start.IsZero() {
		start = r.Start.Format(DateLayout)
	}
	if !r.End.IsZero() {
		end = r.End.Format(DateLayout)
	}
	return start + " to " + end
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON encodes the bounds as YYYY-MM-DD, with "" for an open bound.
func (r DateRange) MarshalJSON() ([]byte, error) {
	var out dateRangeJSON
	if !r.Start.IsZero() {
		out.Start = r.Start.Format(DateLayout)
	}
	if !r.End.IsZero() {
		out.End = r.End.Format(DateLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts YYYY-MM-DD or RFC 3339 bounds, "" or null for open.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var in struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	start, err := parseBound(in.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseBound(in.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	r.Start, r.End = start, end
	return nil
}

func parseBound(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, *s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", *s)
	}
	return day(t), nil
}

// Resolve fills open bounds from span.
func (r DateRange) Resolve(span DateRange) DateRange {
	if r.Start.IsZero() {
		r.Start = span.Start
	}
	if r.End.IsZero() {
		r.End = span.End
	}
	return r
}

// Intent is the structured reading of one message.
type Intent struct {
	// Countries holds ISO 3166-1 alpha-2 codes in order of first mention.
	Countries       []string   `json:"countries"`
	DateRange       *DateRange `json:"date_range,omitempty"`
	WantsChart      bool       `json:"wants_chart"`
	ChartType       ChartType  `json:"chart_type,omitempty"`
	WantsBulkExport bool       `json:"wants_bulk_export"`
	// FollowUp is set when fields were resolved against a prior intent.
	FollowUp bool `json:"follow_up"`
}

// Clone returns a deep copy.
func (i Intent) Clone() Intent {
	out := i
	out.Countries = slices.Clone(i.Countries)
	if i.DateRange != nil {
		r := *i.DateRange
		out.DateRange = &r
	}
	return out
}

// Equal reports whether two intents carry the same values.
func (i Intent) Equal(o Intent) bool {
	if !slices.Equal(i.Countries, o.Countries) {
		return false
	}
	if (i.DateRange == nil) != (o.DateRange == nil) {
		return false
	}
	if i.DateRange != nil && (!i.DateRange.Start.Equal(o.DateRange.Start) || !i.DateRange.End.Equal(o.DateRange.End)) {
		return false
	}
	return i.WantsChart == o.WantsChart &&
		i.ChartType == o.ChartType &&
		i.WantsBulkExport == o.WantsBulkExport &&
		i.FollowUp == o.FollowUp
}
