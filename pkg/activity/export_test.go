package activity

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seededTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := newTestTracker(WithReportShape(3, 10))
	require.NoError(t, tr.Record(allowed("s1", KindChart, "FR", "DE")))
	require.NoError(t, tr.Record(allowed("s1", KindText, "FR")))
	require.NoError(t, tr.Record(blocked("s2", guardrail.CategoryDataExtraction)))
	return tr
}

func TestWriteXLSX(t *testing.T) {
	tr := seededTracker(t)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, tr.Snapshot()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetDaily, SheetCountries, SheetBlocked, SheetKinds, SheetSessions}, f.GetSheetList())

	daily, err := f.GetRows(SheetDaily)
	require.NoError(t, err)
	require.Len(t, daily, 4)
	assert.Equal(t, []string{"date", "total", "blocked"}, daily[0])
	assert.Equal(t, []string{"2025-06-15", "3", "1"}, daily[3])

	countries, err := f.GetRows(SheetCountries)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"country", "mentions"}, {"FR", "2"}, {"DE", "1"}}, countries)

	blockedRows, err := f.GetRows(SheetBlocked)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"category", "count"}, {"data_extraction", "1"}}, blockedRows)

	kinds, err := f.GetRows(SheetKinds)
	require.NoError(t, err)
	require.Len(t, kinds, 5)
	assert.Equal(t, []string{"chart", "1", "50"}, kinds[1])

	sessions, err := f.GetRows(SheetSessions)
	require.NoError(t, err)
	assert.Equal(t, []string{"total_sessions", "2"}, sessions[1])
	assert.Equal(t, []string{"generated_at", "2025-06-15T14:30:00Z"}, sessions[5])
}

func TestSaveReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	tr := seededTracker(t)

	path, err := SaveReport(dir, tr.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "activity-20250615-143000.xlsx"), path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file should be renamed away")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Len(t, f.GetSheetList(), 5)
}

func TestReportSweep(t *testing.T) {
	dir := t.TempDir()
	sweep := ReportSweep(seededTracker(t), dir)

	n, err := sweep(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = sweep(ctx, fixedNow)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
