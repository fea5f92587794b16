package activity

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

func newTestTracker(opts ...Option) *Tracker {
	logger, _ := test.NewNullLogger()
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithObserver(nil),
		WithLogger(logger),
	}
	return NewTracker(append(base, opts...)...)
}

func allowed(session string, kind QueryKind, countries ...string) Record {
	return Record{SessionID: session, QueryKind: kind, Countries: countries}
}

func blocked(session string, cat guardrail.Category) Record {
	return Record{SessionID: session, Blocked: true, BlockCategory: cat}
}

func TestRecord_Validation(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want error
	}{
		{"allowed ok", allowed("s1", KindText, "FR"), nil},
		{"blocked ok", blocked("s1", guardrail.CategoryDataExtraction), nil},
		{"raw country name", allowed("s1", KindText, "France"), ErrRawValue},
		{"lowercase code", allowed("s1", KindText, "fr"), ErrRawValue},
		{"unknown code", allowed("s1", KindText, "ZZ"), ErrRawValue},
		{"sentence in session id", allowed("my password is hunter2", KindText), ErrRawValue},
		{"empty session", allowed("", KindText), ErrRawValue},
		{"unknown kind", allowed("s1", QueryKind("free text")), ErrRawValue},
		{"blocked without category", Record{SessionID: "s1", Blocked: true}, ErrRawValue},
		{"blocked with none", blocked("s1", guardrail.CategoryNone), ErrRawValue},
		{"allowed with category", Record{SessionID: "s1", QueryKind: KindText, BlockCategory: guardrail.CategoryRateLimit}, ErrInvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			err := tr.Record(tt.rec)
			if tt.want == nil {
				assert.NoError(t, err)
				assert.Len(t, tr.Records(), 1)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, tr.Records())
		})
	}
}

func TestTracker_BlockedCountsOnlyTowardVolume(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Record(allowed("s1", KindChart, "FR", "DE")))
	require.NoError(t, tr.Record(blocked("s1", guardrail.CategoryReverseEngineering)))
	require.NoError(t, tr.Record(Record{
		SessionID:     "s2",
		Blocked:       true,
		BlockCategory: guardrail.CategoryDataExtraction,
		Countries:     []string{"US"},
	}))

	daily := tr.DailyCounts(1)
	require.Len(t, daily, 1)
	assert.Equal(t, DailyCount{Date: "2025-06-15", Total: 3, Blocked: 2}, daily[0])

	assert.Equal(t, []CountryCount{{"FR", 1}, {"DE", 1}}, tr.TopCountries(0))
	assert.Equal(t, map[guardrail.Category]int{
		guardrail.CategoryReverseEngineering: 1,
		guardrail.CategoryDataExtraction:     1,
	}, tr.BlockBreakdown())

	kinds := tr.QueryKindBreakdown()
	assert.Equal(t, 1, kinds.Total)
	assert.Equal(t, 1, kinds.Chart)
}

func TestTracker_DailyCountsZeroFilled(t *testing.T) {
	tr := newTestTracker()

	old := allowed("s1", KindText)
	old.Timestamp = fixedNow.AddDate(0, 0, -2)
	require.NoError(t, tr.Record(old))
	require.NoError(t, tr.Record(allowed("s1", KindText)))

	daily := tr.DailyCounts(4)
	require.Len(t, daily, 4)
	assert.Equal(t, "2025-06-12", daily[0].Date)
	assert.Equal(t, 0, daily[0].Total)
	assert.Equal(t, "2025-06-13", daily[1].Date)
	assert.Equal(t, 1, daily[1].Total)
	assert.Equal(t, 0, daily[2].Total)
	assert.Equal(t, "2025-06-15", daily[3].Date)
	assert.Equal(t, 1, daily[3].Total)

	assert.Empty(t, tr.DailyCounts(0))
}

func TestTracker_TopCountriesOrdering(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Record(allowed("s1", KindText, "JP")))
	require.NoError(t, tr.Record(allowed("s1", KindText, "BR", "FR")))
	require.NoError(t, tr.Record(allowed("s1", KindText, "FR")))

	assert.Equal(t, []CountryCount{{"FR", 2}, {"JP", 1}, {"BR", 1}}, tr.TopCountries(0))
	assert.Equal(t, []CountryCount{{"FR", 2}, {"JP", 1}}, tr.TopCountries(2))
}

func TestTracker_QueryKindPercentages(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Record(allowed("s1", KindChart)))
	require.NoError(t, tr.Record(allowed("s1", KindText)))
	require.NoError(t, tr.Record(allowed("s1", KindText)))

	b := tr.QueryKindBreakdown()
	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 33.33, b.ChartPercent)
	assert.Equal(t, 66.67, b.TextPercent)
	assert.Equal(t, 0.0, b.DataQueryPercent)

	empty := newTestTracker().QueryKindBreakdown()
	assert.Equal(t, KindBreakdown{}, empty)
}

func TestTracker_SessionStats(t *testing.T) {
	tr := newTestTracker()

	stale := allowed("old-session", KindText)
	stale.Timestamp = fixedNow.Add(-2 * time.Hour)
	require.NoError(t, tr.Record(stale))
	require.NoError(t, tr.Record(allowed("s1", KindText)))
	require.NoError(t, tr.Record(allowed("s1", KindChart)))
	require.NoError(t, tr.Record(blocked("s1", guardrail.CategoryRateLimit)))

	st := tr.SessionStats(fixedNow)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 4, st.TotalQueries)
	assert.Equal(t, 2.0, st.AvgQueries)
}

func TestTracker_SnapshotShape(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Record(allowed("s1", KindChart, "FR")))

	r := tr.Snapshot()
	assert.Equal(t, fixedNow, r.GeneratedAt)
	assert.Len(t, r.Daily, 30)
	assert.Equal(t, "2025-06-15", r.Daily[29].Date)
	assert.Equal(t, 1, r.Daily[29].Total)
	assert.Len(t, r.TopCountries, 1)
	assert.Equal(t, 1, r.Sessions.Total)

	shaped := newTestTracker(WithReportShape(7, 5)).Snapshot()
	assert.Len(t, shaped.Daily, 7)
}

func TestTracker_ObserverCalledForAcceptedOnly(t *testing.T) {
	var seen []Record
	tr := newTestTracker(WithObserver(func(r Record) { seen = append(seen, r) }))

	require.NoError(t, tr.Record(allowed("s1", KindText, "FR")))
	require.Error(t, tr.Record(allowed("s1", KindText, "France")))

	require.Len(t, seen, 1)
	assert.Equal(t, []string{"FR"}, seen[0].Countries)
}

func TestTracker_MaxRecords(t *testing.T) {
	tr := newTestTracker(WithMaxRecords(2))

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Record(allowed("s1", KindText)))
	}

	assert.Len(t, tr.Records(), 2)
	assert.Equal(t, 5, tr.DailyCounts(1)[0].Total)
}

func TestTracker_SafeRecordSwallowsRejection(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := NewTracker(WithClock(func() time.Time { return fixedNow }), WithObserver(nil), WithLogger(logger))

	tr.SafeRecord(allowed("s1", KindText, "France"))

	assert.Empty(t, tr.Records())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "activity record rejected", hook.LastEntry().Message)
}

func TestTracker_SafeRecordRecoversObserverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := NewTracker(
		WithClock(func() time.Time { return fixedNow }),
		WithObserver(func(Record) { panic("metrics down") }),
		WithLogger(logger),
	)

	assert.NotPanics(t, func() { tr.SafeRecord(allowed("s1", KindText)) })
	assert.Len(t, tr.Records(), 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "activity tracking panicked", hook.LastEntry().Message)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := newTestTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = tr.Record(allowed("s1", KindText, "FR"))
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, tr.QueryKindBreakdown().Total)
	assert.Equal(t, []CountryCount{{"FR", 1000}}, tr.TopCountries(0))
}

func TestTracker_ReportHoldsNoMessageContent(t *testing.T) {
	tr := newTestTracker()

	// The tracker never sees message text, so nothing from these phrases
	// can surface in its output.
	denylist := []string{"sentiment", "score", "password", "show", "France"}

	require.NoError(t, tr.Record(allowed("s1", KindChart, "FR", "DE")))
	require.NoError(t, tr.Record(blocked("s2", guardrail.CategoryDataExtraction)))

	out, err := json.Marshal(struct {
		Report  Report
		Records []Record
	}{tr.Snapshot(), tr.Records()})
	require.NoError(t, err)

	for _, word := range denylist {
		assert.False(t, strings.Contains(string(out), word), "found %q in report", word)
	}
}
