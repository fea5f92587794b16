package activity

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/xuri/excelize/v2"
)

// Sheet names of an exported report, in workbook order.
const (
	SheetDaily     = "Daily"
	SheetCountries = "Countries"
	SheetBlocked   = "Blocked"
	SheetKinds     = "Kinds"
	SheetSessions  = "Sessions"
)

// WriteXLSX writes r to w as a workbook with one sheet per report section.
func WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetDaily); err != nil {
		return fmt.Errorf("rename default sheet: %w", err)
	}
	for _, name := range []string{SheetCountries, SheetBlocked, SheetKinds, SheetSessions} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	daily := [][]interface{}{{"date", "total", "blocked"}}
	for _, d := range r.Daily {
		daily = append(daily, []interface{}{d.Date, d.Total, d.Blocked})
	}

	countries := [][]interface{}{{"country", "mentions"}}
	for _, c := range r.TopCountries {
		countries = append(countries, []interface{}{c.Country, c.Count})
	}

	blocked := [][]interface{}{{"category", "count"}}
	for _, cat := range sortedCategories(r.Blocked) {
		blocked = append(blocked, []interface{}{string(cat), r.Blocked[cat]})
	}

	k := r.QueryKinds
	kinds := [][]interface{}{
		{"kind", "count", "percent"},
		{string(KindChart), k.Chart, k.ChartPercent},
		{string(KindText), k.Text, k.TextPercent},
		{string(KindDataQuery), k.DataQuery, k.DataQueryPercent},
		{"total", k.Total, nil},
	}

	s := r.Sessions
	sessions := [][]interface{}{
		{"metric", "value"},
		{"total_sessions", s.Total},
		{"active_sessions", s.Active},
		{"total_queries", s.TotalQueries},
		{"avg_queries_per_session", s.AvgQueries},
		{"generated_at", r.GeneratedAt.UTC().Format(time.RFC3339)},
	}

	for sheet, rows := range map[string][][]interface{}{
		SheetDaily:     daily,
		SheetCountries: countries,
		SheetBlocked:   blocked,
		SheetKinds:     kinds,
		SheetSessions:  sessions,
	} {
		if err := writeRows(f, sheet, rows); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func sortedCategories(m map[guardrail.Category]int) []guardrail.Category {
	out := make([]guardrail.Category, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SaveReport writes r into dir as activity-YYYYMMDD-HHMMSS.xlsx and returns
// the file path.
func SaveReport(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := fmt.Sprintf("activity-%s.xlsx", r.GeneratedAt.UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".activity-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	if err := WriteXLSX(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish report file: %w", err)
	}
	return path, nil
}

// ReportSweep returns a janitor job that snapshots t into dir. It reports
// one unit of work per written report.
func ReportSweep(t *Tracker, dir string) func(ctx context.Context, now time.Time) (int, error) {
	return func(ctx context.Context, now time.Time) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		path, err := SaveReport(dir, t.Snapshot())
		if err != nil {
			return 0, err
		}
		t.logger.WithField("path", path).Info("activity report written")
		return 1, nil
	}
}
