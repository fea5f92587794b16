package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `,date,France,Germany,Atlantis,Japan
0,2020-01-01,0.10,0.50,1,
1,2020-06-01,0.20,0.40,1,0.3
2,2021-01-01,0.30,0.30,1,0.3
3,2021-06-01,0.40,,1,0.3
4,2022-01-01,0.50,0.10,1,NaN
`

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func writeCSV(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "sentiment.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestStore(t *testing.T, content string) *CSVStore {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := NewCSVStore(writeCSV(t, t.TempDir(), content), WithLogger(logger))
	require.NoError(t, err)
	return s
}

func TestCSVStore_Load(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s, err := NewCSVStore(writeCSV(t, t.TempDir(), sampleCSV), WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, []string{"FR", "DE", "JP"}, s.Countries())
	assert.Equal(t, intent.DateRange{Start: day(2020, 1, 1), End: day(2022, 1, 1)}, s.Span())

	h := s.Health(context.Background())
	assert.True(t, h.Loaded)
	assert.Equal(t, 3, h.CountryCount)
	assert.NoError(t, s.Ping(context.Background()))

	var skipped bool
	for _, e := range hook.AllEntries() {
		if e.Data["column"] == "Atlantis" {
			skipped = true
		}
	}
	assert.True(t, skipped, "unknown column should be logged")
}

func TestCSVStore_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no date column", "France,Germany\n0.1,0.2\n"},
		{"no country columns", "date,Atlantis\n2020-01-01,1\n"},
		{"no dated rows", "date,France\nnot-a-date,0.1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			_, err := NewCSVStore(writeCSV(t, t.TempDir(), tt.content), WithLogger(logger))
			assert.Error(t, err)
		})
	}

	_, err := NewCSVStore(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestCSVStore_QueryFullSpan(t *testing.T) {
	s := newTestStore(t, sampleCSV)

	got, err := s.Query(context.Background(), []string{"FR", "DE", "JP"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	fr := got[0]
	assert.Equal(t, "FR", fr.Country)
	assert.Equal(t, "France", fr.Name)
	assert.Equal(t, 5, fr.DataPoints)
	assert.InDelta(t, 0.3, fr.Mean, 1e-9)
	assert.InDelta(t, 0.1, fr.Min, 1e-9)
	assert.InDelta(t, 0.5, fr.Max, 1e-9)
	assert.InDelta(t, 0.5, fr.Latest, 1e-9)
	assert.Equal(t, TrendIncreasing, fr.Trend)

	de := got[1]
	assert.Equal(t, 4, de.DataPoints, "blank cell is missing, not zero")
	assert.Equal(t, TrendDecreasing, de.Trend)

	jp := got[2]
	assert.Equal(t, 3, jp.DataPoints, "NaN is missing")
	assert.Equal(t, TrendStable, jp.Trend, "constant series is stable")
}

func TestCSVStore_QueryRange(t *testing.T) {
	s := newTestStore(t, sampleCSV)
	ctx := context.Background()

	got, err := s.Query(ctx, []string{"FR"}, &intent.DateRange{Start: day(2021, 1, 1), End: day(2021, 12, 31)})
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].DataPoints)
	assert.Equal(t, day(2021, 12, 31), got[0].End)

	open, err := s.Query(ctx, []string{"FR"}, &intent.DateRange{Start: day(2021, 6, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, open[0].DataPoints)
	assert.Equal(t, day(2022, 1, 1), open[0].End)

	single, err := s.Query(ctx, []string{"FR"}, &intent.DateRange{Start: day(2022, 1, 1), End: day(2022, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, single[0].DataPoints)
	assert.Equal(t, TrendUnknown, single[0].Trend)

	empty, err := s.Query(ctx, []string{"FR"}, &intent.DateRange{Start: day(2019, 1, 1), End: day(2019, 6, 1)})
	require.NoError(t, err)
	assert.Zero(t, empty[0].DataPoints)
	assert.Zero(t, empty[0].Mean)
}

func TestCSVStore_QueryErrors(t *testing.T) {
	s := newTestStore(t, sampleCSV)
	ctx := context.Background()

	_, err := s.Query(ctx, []string{"BR"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownCountry))

	_, err = s.Query(ctx, []string{"FR"}, &intent.DateRange{Start: day(2022, 1, 1), End: day(2020, 1, 1)})
	assert.True(t, errors.Is(err, ErrInvalidRange))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Query(cancelled, []string{"FR"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVStore_ReloadKeepsDataOnFailure(t *testing.T) {
	s := newTestStore(t, sampleCSV)

	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o600))
	assert.Error(t, s.Reload())
	assert.Equal(t, []string{"FR", "DE", "JP"}, s.Countries())

	require.NoError(t, os.WriteFile(s.Path(), []byte("date,Brazil\n2023-01-01,0.2\n"), 0o600))
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"BR"}, s.Countries())
}

func TestCSVStore_Watch(t *testing.T) {
	s := newTestStore(t, sampleCSV)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(s.Path(), []byte("date,Brazil\n2023-01-01,0.2\n"), 0o600))

	assert.Eventually(t, func() bool {
		c := s.Countries()
		return len(c) == 1 && c[0] == "BR"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Trend
	}{
		{"single", []float64{1}, TrendUnknown},
		{"rising", []float64{1, 2, 3}, TrendIncreasing},
		{"falling", []float64{3, 2, 1}, TrendDecreasing},
		{"flat", []float64{2, 2, 2}, TrendStable},
		{"hump", []float64{1, 3, 3, 1}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trendOf(tt.values))
		})
	}
}
