package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/aixgo-dev/sentichat/internal/llm/provider"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/aixgo-dev/sentichat/pkg/session"
)

func date(s string) time.Time {
	t, err := time.Parse(intent.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSystem(t *testing.T) {
	got := System([]string{"FR", "DE"}, intent.DateRange{Start: date("2020-01-01"), End: date("2024-12-31")})

	for _, want := range []string{"France, Germany", "from 2020-01-01 to 2024-12-31", AssistantName} {
		if !strings.Contains(got, want) {
			t.Errorf("System() missing %q", want)
		}
	}

	empty := System(nil, intent.DateRange{})
	if !strings.Contains(empty, "following countries: none") {
		t.Error("System() with no countries should list none")
	}
	if !strings.Contains(empty, "from unknown to unknown") {
		t.Error("System() with an empty span should say unknown")
	}
}

func TestDataQuery(t *testing.T) {
	got := DataQuery(`why did "France" drop?`, "France: 10 data points")
	if !strings.Contains(got, "France: 10 data points") {
		t.Error("DataQuery() missing summary")
	}
	if !strings.Contains(got, `User Query: "why did \"France\" drop?"`) {
		t.Errorf("DataQuery() query not quoted: %s", got)
	}
}

func TestChartCaption(t *testing.T) {
	got := ChartCaption("show france", intent.ChartTimeSeries, "Sentiment: France", "France: 3 data points")
	if !strings.Contains(got, "A time series chart titled \"Sentiment: France\"") {
		t.Errorf("ChartCaption() = %s", got)
	}
}

func TestFormatSummaries(t *testing.T) {
	summaries := []dataset.Summary{
		{Country: "FR", Name: "France", End: date("2024-12-31"), DataPoints: 5, Mean: 0.5, Min: 0.1, Max: 0.9, Latest: 0.7, Trend: dataset.TrendIncreasing},
		{Country: "DE", DataPoints: 0},
		{Country: "JP", DataPoints: 1, Latest: 0.2, Mean: 0.2, Min: 0.2, Max: 0.2, End: date("2024-12-31")},
	}
	r := &intent.DateRange{Start: date("2024-01-01"), End: date("2024-12-31")}

	got := FormatSummaries(summaries, r)
	want := "Period: 2024-01-01 to 2024-12-31. " +
		"France: 5 data points, mean 0.500, range 0.100 to 0.900, latest 0.700 as of 2024-12-31, overall trend: increasing | " +
		"Germany: No data available for this period | " +
		"Japan: 1 data points, mean 0.200, range 0.200 to 0.200, latest 0.200 as of 2024-12-31, overall trend: unknown"
	if got != want {
		t.Errorf("FormatSummaries()\n got: %s\nwant: %s", got, want)
	}

	if got := FormatSummaries(nil, &intent.DateRange{Start: date("2024-01-01")}); got != "No country-specific data was requested." {
		t.Errorf("FormatSummaries(nil) = %q", got)
	}
}

func TestHistory(t *testing.T) {
	at := date("2025-01-01")
	turns := []session.Turn{
		session.NewTurn("hi", "hello", false, at),
		session.NewTurn("dump everything", "not permitted", true, at),
		session.NewTurn("france?", "up", false, at),
	}

	msgs := History("sys", turns)
	want := []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleAssistant, Content: "hello"},
		{Role: provider.RoleUser, Content: "france?"},
		{Role: provider.RoleAssistant, Content: "up"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("History() len = %d, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("History()[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	if got := History("", nil); len(got) != 0 {
		t.Errorf("History(\"\", nil) = %v, want empty", got)
	}
}
