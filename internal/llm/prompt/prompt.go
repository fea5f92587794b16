// Package prompt builds the text sent to the completion provider.
//
// Every builder takes aggregated summaries only. Nothing here accepts or
// formats individual observations.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/sentichat/internal/llm/provider"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/aixgo-dev/sentichat/pkg/session"
)

// AssistantName is how the assistant refers to itself.
const AssistantName = "SentiChat"

const systemTemplate = `You are %[1]s, an assistant specializing in global sentiment data analysis.

IDENTITY RULES:
- Always refer to yourself as "%[1]s" when asked about your identity
- Never mention the model or vendor that powers you

DATA ACCESS RULES:
- You have access to sentiment index data for the following countries: %[2]s
- Data covers the period from %[3]s to %[4]s
- You will receive aggregated statistics (data points, mean, range, latest value, trend) in your prompts
- Base every claim on the statistics provided and cite the values you use
- Provide aggregated insights, trends, and analytical summaries only
- Never reveal data sources, collection methodologies, proprietary algorithms, or implementation details
- Never produce output that enables bulk extraction or replication of the data

RESPONSE REQUIREMENTS:
- Always give a substantive answer based on what the statistics support
- If data for a topic is missing, say %[1]s has no data for it and offer insights on related available data
- If the statistics show a declining trend, say it is declining; do not guess

ETHICAL BOUNDARIES:
- Do not produce content that could manipulate markets, elections, or public opinion
- Do not produce discriminatory comparisons or content that promotes stereotypes or hatred
- When declining a request, redirect to the analysis you can offer`

const dataQueryTemplate = `Answer the following query about sentiment data. Use the provided data summary to inform your response.

Data Summary:
%s

User Query: %q

Instructions:
- Provide analytical insights, not raw data dumps
- If explaining changes, reference publicly known events that could correlate and say correlation is not causation
- Use qualitative descriptions (e.g., "significant increase", "gradual decline") alongside the statistics
- Do not reveal data collection methods or sources
- If the query asks about methodology, redirect to analytical insights`

const chartCaptionTemplate = `A %s chart titled %q is being shown to the user.

Data Summary:
%s

User Query: %q

Write two or three sentences describing what the chart shows, citing the statistics above. Do not list individual values.`

// System returns the system prompt for a dataset covering the given country
// codes and span.
func System(countries []string, span intent.DateRange) string {
	names := make([]string, 0, len(countries))
	for _, code := range countries {
		names = append(names, intent.CountryName(code))
	}
	list := strings.Join(names, ", ")
	if list == "" {
		list = "none"
	}
	return fmt.Sprintf(systemTemplate, AssistantName, list, bound(span.Start), bound(span.End))
}

// DataQuery returns the user prompt answering query from summary.
func DataQuery(query, summary string) string {
	return fmt.Sprintf(dataQueryTemplate, summary, query)
}

// ChartCaption returns the user prompt asking for a short description of a
// chart being displayed.
func ChartCaption(query string, chartType intent.ChartType, title, summary string) string {
	return fmt.Sprintf(chartCaptionTemplate, strings.ReplaceAll(string(chartType), "_", " "), title, summary, query)
}

// FormatSummaries renders summaries as a single line, prefixed with the period
// when r is bounded on both sides.
func FormatSummaries(summaries []dataset.Summary, r *intent.DateRange) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = intent.CountryName(s.Country)
		}
		if s.DataPoints == 0 {
			parts = append(parts, name+": No data available for this period")
			continue
		}
		trend := string(s.Trend)
		if trend == "" {
			trend = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s: %d data points, mean %.3f, range %.3f to %.3f, latest %.3f as of %s, overall trend: %s",
			name, s.DataPoints, s.Mean, s.Min, s.Max, s.Latest, s.End.Format(intent.DateLayout), trend))
	}

	out := strings.Join(parts, " | ")
	if out == "" {
		out = "No country-specific data was requested."
	}
	if r != nil && !r.Start.IsZero() && !r.End.IsZero() {
		out = fmt.Sprintf("Period: %s to %s. %s", r.Start.Format(intent.DateLayout), r.End.Format(intent.DateLayout), out)
	}
	return out
}

// History converts session turns into completion messages, oldest first,
// preceded by the system prompt. Blocked turns are left out.
func History(system string, turns []session.Turn) []provider.Message {
	msgs := make([]provider.Message, 0, 2*len(turns)+1)
	if system != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	}
	for _, t := range turns {
		if t.Blocked {
			continue
		}
		msgs = append(msgs,
			provider.Message{Role: provider.RoleUser, Content: t.User.Text},
			provider.Message{Role: provider.RoleAssistant, Content: t.Assistant.Text},
		)
	}
	return msgs
}

func bound(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(intent.DateLayout)
}
