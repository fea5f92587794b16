// Package dataset provides read access to the country sentiment time series.
//
// Callers only ever receive aggregates. No operation in this package returns
// individual observations.
package dataset

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
)

var (
	// ErrNotLoaded is returned when the store holds no data.
	ErrNotLoaded = errors.New("dataset not loaded")
	// ErrUnknownCountry is returned when a requested country is not a column
	// of the dataset.
	ErrUnknownCountry = errors.New("country not in dataset")
	// ErrInvalidRange is returned for ranges whose start is after their end.
	ErrInvalidRange = errors.New("invalid date range")
)

// Trend is the direction of a series over a period.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	// TrendUnknown is reported for fewer than two data points.
	TrendUnknown Trend = ""
)

// Summary aggregates one country's series over a period. Mean, Min, Max and
// Latest are zero when DataPoints is zero.
type Summary struct {
	Country    string    `json:"country"`
	Name       string    `json:"name"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DataPoints int       `json:"data_points"`
	Mean       float64   `json:"mean,omitempty"`
	Min        float64   `json:"min,omitempty"`
	Max        float64   `json:"max,omitempty"`
	Latest     float64   `json:"latest,omitempty"`
	Trend      Trend     `json:"trend,omitempty"`
}

// Health describes what the store has loaded.
type Health struct {
	Loaded       bool      `json:"data_loaded"`
	CountryCount int       `json:"countries_count"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Store answers aggregate questions about the dataset.
type Store interface {
	// Query summarizes each country over r. A nil r, or open bounds, mean
	// the full span.
	Query(ctx context.Context, countries []string, r *intent.DateRange) ([]Summary, error)
	Health(ctx context.Context) Health
	// Countries lists the ISO codes present, in column order.
	Countries() []string
	// Span is the first and last date of the data.
	Span() intent.DateRange
}

type point struct {
	date  time.Time
	value float64
}

// summarize computes the aggregate of points, which must be sorted by date.
func summarize(code string, r intent.DateRange, points []point) Summary {
	s := Summary{
		Country: code,
		Name:    intent.CountryName(code),
		Start:   r.Start,
		End:     r.End,
	}
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.date.Before(r.Start) || p.date.After(r.End) {
			continue
		}
		values = append(values, p.value)
	}
	if len(values) == 0 {
		return s
	}

	s.DataPoints = len(values)
	s.Min, s.Max = values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))
	s.Latest = values[len(values)-1]
	s.Trend = trendOf(values)
	return s
}

// trendOf classifies the Pearson correlation between the values and their
// index: above 0.1 is increasing, below -0.1 decreasing.
func trendOf(values []float64) Trend {
	n := len(values)
	if n < 2 {
		return TrendUnknown
	}
	r := pearson(values)
	switch {
	case math.IsNaN(r):
		return TrendStable
	case r > 0.1:
		return TrendIncreasing
	case r < -0.1:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func pearson(values []float64) float64 {
	n := float64(len(values))
	meanX := (n - 1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= n

	var cov, varX, varY float64
	for i, v := range values {
		dx := float64(i) - meanX
		dy := v - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varX*varY)
}
