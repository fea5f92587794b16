// Package activity records what happened to every processed message and
// projects the records into usage reports.
//
// Records carry only categorical metadata: country codes, guardrail
// categories, query kinds and the session id. Message text and dataset values
// never enter the tracker.
package activity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/sirupsen/logrus"
)

// QueryKind is how an allowed message was answered.
type QueryKind string

const (
	KindChart     QueryKind = "chart"
	KindText      QueryKind = "text"
	KindDataQuery QueryKind = "data_query"
)

// Valid reports whether k is a known kind.
func (k QueryKind) Valid() bool {
	switch k {
	case KindChart, KindText, KindDataQuery:
		return true
	}
	return false
}

// ActiveWindow is how recently a session must have been seen to count as
// active.
const ActiveWindow = time.Hour

const dayLayout = "2006-01-02"

var (
	// ErrRawValue is returned when a record field does not have the shape of
	// a categorical label.
	ErrRawValue = errors.New("record field is not a categorical value")
	// ErrInvalidRecord is returned for records that contradict themselves.
	ErrInvalidRecord = errors.New("invalid activity record")
)

// Record is one processed message.
type Record struct {
	Timestamp     time.Time          `json:"timestamp"`
	SessionID     string             `json:"session_id"`
	Blocked       bool               `json:"blocked"`
	BlockCategory guardrail.Category `json:"block_category,omitempty"`
	Countries     []string           `json:"countries"`
	QueryKind     QueryKind          `json:"query_kind,omitempty"`
}

// Validate checks that every field is categorical metadata.
func (r Record) Validate() error {
	if !guardrail.ValidSessionID(r.SessionID) {
		return fmt.Errorf("%w: session id", ErrRawValue)
	}
	for _, c := range r.Countries {
		if !intent.IsCountryCode(c) {
			return fmt.Errorf("%w: country %q", ErrRawValue, truncate(c, 16))
		}
	}
	if r.Blocked {
		if !r.BlockCategory.Valid() || r.BlockCategory == guardrail.CategoryNone {
			return fmt.Errorf("%w: block category", ErrRawValue)
		}
		return nil
	}
	if r.BlockCategory != "" && r.BlockCategory != guardrail.CategoryNone {
		return fmt.Errorf("%w: allowed record with block category %s", ErrInvalidRecord, r.BlockCategory)
	}
	if !r.QueryKind.Valid() {
		return fmt.Errorf("%w: query kind", ErrRawValue)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// DailyCount is the message volume of one day.
type DailyCount struct {
	Date    string `json:"date"`
	Total   int    `json:"total"`
	Blocked int    `json:"blocked"`
}

// CountryCount is the number of allowed messages mentioning a country.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// KindBreakdown splits allowed messages by query kind.
type KindBreakdown struct {
	Chart            int     `json:"chart"`
	Text             int     `json:"text"`
	DataQuery        int     `json:"data_query"`
	Total            int     `json:"total"`
	ChartPercent     float64 `json:"chart_percent"`
	TextPercent      float64 `json:"text_percent"`
	DataQueryPercent float64 `json:"data_query_percent"`
}

// SessionStats summarizes sessions seen by the tracker.
type SessionStats struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	TotalQueries int     `json:"total_queries"`
	AvgQueries   float64 `json:"avg_queries"`
}

// Report is the full analytics projection.
type Report struct {
	GeneratedAt  time.Time                  `json:"generated_at"`
	Daily        []DailyCount               `json:"daily"`
	TopCountries []CountryCount             `json:"top_countries"`
	QueryKinds   KindBreakdown              `json:"query_kinds"`
	Blocked      map[guardrail.Category]int `json:"blocked"`
	Sessions     SessionStats               `json:"sessions"`
}

type sessionActivity struct {
	queries  int
	lastSeen time.Time
}

// Tracker accumulates records. It is safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	records      []Record
	maxRecords   int
	daily        map[string]*DailyCount
	countries    map[string]int
	countryOrder []string
	blocked      map[guardrail.Category]int
	kinds        map[QueryKind]int
	sessions     map[string]*sessionActivity

	now      func() time.Time
	observe  func(Record)
	logger   logrus.FieldLogger
	days     int
	topLimit int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for daily buckets and session activity.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithObserver replaces the metrics hook called for each accepted record.
func WithObserver(fn func(Record)) Option {
	return func(t *Tracker) {
		t.observe = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithMaxRecords bounds the raw record log. Aggregates are unaffected.
func WithMaxRecords(n int) Option {
	return func(t *Tracker) {
		t.maxRecords = n
	}
}

// WithReportShape sets how many days and countries Snapshot includes.
func WithReportShape(days, topCountries int) Option {
	return func(t *Tracker) {
		t.days = days
		t.topLimit = topCountries
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		maxRecords: 100_000,
		daily:      make(map[string]*DailyCount),
		countries:  make(map[string]int),
		blocked:    make(map[guardrail.Category]int),
		kinds:      make(map[QueryKind]int),
		sessions:   make(map[string]*sessionActivity),
		now:        time.Now,
		observe:    recordMetrics,
		logger:     logrus.StandardLogger(),
		days:       30,
		topLimit:   20,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func recordMetrics(r Record) {
	observability.RecordMessage(r.Blocked, string(r.BlockCategory), r.Countries, string(r.QueryKind))
}

// Record validates and stores r. A zero Timestamp is stamped with the
// tracker clock. Blocked records count toward daily volume and the block
// breakdown only; allowed records also count toward countries and kinds.
func (t *Tracker) Record(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}
	r.Countries = append([]string(nil), r.Countries...)

	t.mu.Lock()
	t.records = append(t.records, r)
	if t.maxRecords > 0 && len(t.records) > t.maxRecords {
		t.records = append([]Record(nil), t.records[len(t.records)-t.maxRecords:]...)
	}

	key := r.Timestamp.UTC().Format(dayLayout)
	d, ok := t.daily[key]
	if !ok {
		d = &DailyCount{Date: key}
		t.daily[key] = d
	}
	d.Total++

	if r.Blocked {
		d.Blocked++
		t.blocked[r.BlockCategory]++
	} else {
		t.kinds[r.QueryKind]++
		for _, c := range r.Countries {
			if _, seen := t.countries[c]; !seen {
				t.countryOrder = append(t.countryOrder, c)
			}
			t.countries[c]++
		}
	}

	s, ok := t.sessions[r.SessionID]
	if !ok {
		s = &sessionActivity{}
		t.sessions[r.SessionID] = s
	}
	s.queries++
	if r.Timestamp.After(s.lastSeen) {
		s.lastSeen = r.Timestamp
	}
	t.mu.Unlock()

	if t.observe != nil {
		t.observe(r)
	}
	return nil
}

// DailyCounts returns exactly n days ending today, oldest first. Days with
// no traffic are zero.
func (t *Tracker) DailyCounts(n int) []DailyCount {
	if n <= 0 {
		return []DailyCount{}
	}
	now := t.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DailyCount, n)
	for i := 0; i < n; i++ {
		key := today.AddDate(0, 0, i-n+1).Format(dayLayout)
		if d, ok := t.daily[key]; ok {
			out[i] = *d
		} else {
			out[i] = DailyCount{Date: key}
		}
	}
	return out
}

// TopCountries returns countries by descending mention count, ties in
// first-seen order. A non-positive limit returns all of them.
func (t *Tracker) TopCountries(limit int) []CountryCount {
	t.mu.Lock()
	out := make([]CountryCount, 0, len(t.countryOrder))
	for _, c := range t.countryOrder {
		out = append(out, CountryCount{Country: c, Count: t.countries[c]})
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BlockBreakdown returns the number of blocked messages per category.
func (t *Tracker) BlockBreakdown() map[guardrail.Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[guardrail.Category]int, len(t.blocked))
	for k, v := range t.blocked {
		out[k] = v
	}
	return out
}

// QueryKindBreakdown returns allowed messages per kind with percentages
// rounded to two decimals.
func (t *Tracker) QueryKindBreakdown() KindBreakdown {
	t.mu.Lock()
	b := KindBreakdown{
		Chart:     t.kinds[KindChart],
		Text:      t.kinds[KindText],
		DataQuery: t.kinds[KindDataQuery],
	}
	t.mu.Unlock()

	b.Total = b.Chart + b.Text + b.DataQuery
	if b.Total > 0 {
		b.ChartPercent = percent(b.Chart, b.Total)
		b.TextPercent = percent(b.Text, b.Total)
		b.DataQueryPercent = percent(b.DataQuery, b.Total)
	}
	return b
}

func percent(n, total int) float64 {
	return round2(float64(n) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SessionStats summarizes sessions as of now.
func (t *Tracker) SessionStats(now time.Time) SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st SessionStats
	st.Total = len(t.sessions)
	for _, s := range t.sessions {
		st.TotalQueries += s.queries
		if now.Sub(s.lastSeen) < ActiveWindow {
			st.Active++
		}
	}
	if st.Total > 0 {
		st.AvgQueries = round2(float64(st.TotalQueries) / float64(st.Total))
	}
	return st
}

// Records returns a copy of the retained record log, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.records))
	for i, r := range t.records {
		r.Countries = append([]string(nil), r.Countries...)
		out[i] = r
	}
	return out
}

// Snapshot builds the full report.
func (t *Tracker) Snapshot() Report {
	now := t.now()
	return Report{
		GeneratedAt:  now,
		Daily:        t.DailyCounts(t.days),
		TopCountries: t.TopCountries(t.topLimit),
		QueryKinds:   t.QueryKindBreakdown(),
		Blocked:      t.BlockBreakdown(),
		Sessions:     t.SessionStats(now),
	}
}

// SafeRecord records r and logs instead of returning failures, for callers
// whose own work must not depend on tracking.
func (t *Tracker) SafeRecord(r Record) {
	defer func() {
		if p := recover(); p != nil {
			t.logger.WithField("panic", p).Error("activity tracking panicked")
		}
	}()
	if err := t.Record(r); err != nil {
		t.logger.WithError(err).Warn("activity record rejected")
	}
}
