package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/sirupsen/logrus"
)

var dateLayouts = []string{
	intent.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ignoredColumns are index and date columns, never countries.
var ignoredColumns = map[string]bool{
	"":           true,
	"unnamed: 0": true,
	"index":      true,
	"date":       true,
}

// table is one loaded snapshot of the file.
type table struct {
	order  []string
	series map[string][]point
	span   intent.DateRange
	rows   int
}

// CSVStore serves a wide CSV file: a date column plus one column per
// country, headed by the country name. It is safe for concurrent use and can
// be reloaded in place.
type CSVStore struct {
	path   string
	logger logrus.FieldLogger

	mu   sync.RWMutex
	data *table
}

// CSVOption configures a CSVStore.
type CSVOption func(*CSVStore)

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) CSVOption {
	return func(s *CSVStore) {
		s.logger = logger
	}
}

// NewCSVStore loads path. The file must parse; a store is never returned
// half loaded.
func NewCSVStore(path string, opts ...CSVOption) (*CSVStore, error) {
	s := &CSVStore{
		path:   path,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the store reads.
func (s *CSVStore) Path() string {
	return s.path
}

// Reload re-reads the file. On failure the previous data stays in place.
func (s *CSVStore) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := parse(f, s.logger)
	if err != nil {
		return fmt.Errorf("parse dataset %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.data = t
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"rows":      t.rows,
		"countries": len(t.order),
		"span":      t.span.String(),
	}).Info("dataset loaded")
	return nil
}

func parse(r io.Reader, logger logrus.FieldLogger) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateCol := -1
	columns := make(map[int]string)
	t := &table{series: make(map[string][]point)}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "date" {
			dateCol = i
		}
		if ignoredColumns[key] {
			continue
		}
		c, ok := intent.LookupCountry(strings.TrimSpace(name))
		if !ok {
			logger.WithField("column", name).Warn("dataset column is not a known country, skipping")
			continue
		}
		if _, dup := t.series[c.Code]; dup {
			logger.WithField("column", name).Warn("duplicate country column, skipping")
			continue
		}
		columns[i] = c.Code
		t.series[c.Code] = nil
		t.order = append(t.order, c.Code)
	}
	if dateCol < 0 {
		return nil, errors.New("no date column")
	}
	if len(columns) == 0 {
		return nil, errors.New("no country columns")
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", t.rows+2, err)
		}
		if dateCol >= len(rec) {
			continue
		}
		date, ok := parseDate(rec[dateCol])
		if !ok {
			continue
		}
		t.rows++
		if t.span.Start.IsZero() || date.Before(t.span.Start) {
			t.span.Start = date
		}
		if date.After(t.span.End) {
			t.span.End = date
		}
		for i, code := range columns {
			if i >= len(rec) {
				continue
			}
			v, ok := parseValue(rec[i])
			if !ok {
				continue
			}
			t.series[code] = append(t.series[code], point{date: date, value: v})
		}
	}
	if t.rows == 0 {
		return nil, errors.New("no dated rows")
	}
	for code := range t.series {
		pts := t.series[code]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].date.Before(pts[j].date) })
	}
	return t, nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (s *CSVStore) snapshot() *table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Query implements Store.
func (s *CSVStore) Query(ctx context.Context, countries []string, r *intent.DateRange) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := s.snapshot()
	if t == nil {
		return nil, ErrNotLoaded
	}

	period := t.span
	if r != nil {
		period = r.Resolve(t.span)
	}
	if period.Start.After(period.End) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, period.String())
	}

	out := make([]Summary, 0, len(countries))
	for _, code := range countries {
		pts, ok := t.series[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, code)
		}
		out = append(out, summarize(code, period, pts))
	}
	return out, nil
}

// Health implements Store.
func (s *CSVStore) Health(_ context.Context) Health {
	t := s.snapshot()
	if t == nil {
		return Health{}
	}
	return Health{
		Loaded:       true,
		CountryCount: len(t.order),
		Start:        t.span.Start,
		End:          t.span.End,
	}
}

// Countries implements Store.
func (s *CSVStore) Countries() []string {
	t := s.snapshot()
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// Span implements Store.
func (s *CSVStore) Span() intent.DateRange {
	t := s.snapshot()
	if t == nil {
		return intent.DateRange{}
	}
	return t.span
}

// Ping fails when nothing is loaded, for use as a health check.
func (s *CSVStore) Ping(_ context.Context) error {
	if s.snapshot() == nil {
		return ErrNotLoaded
	}
	return nil
}
