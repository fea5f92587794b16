package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const yearExpr = `((?:19|20)\d{2})`

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	endMarkerRe = regexp.MustCompile(`(?i)\b(?:until|till|to|before|through|up to|ending)\s*$`)

	relativeRe = regexp.MustCompile(`(?i)\b(?:last|past|previous|recent)\s+(\d{1,3}|` + numberWordExpr + `)\s+(years?|months?|weeks?|days?)\b`)
	singleRe   = regexp.MustCompile(`(?i)\b(last|past|this|previous|current)\s+(year|month|week)\b`)
	ytdRe      = regexp.MustCompile(`(?i)\b(?:year[\s-]to[\s-]date|ytd)\b`)

	yearRangeRe = regexp.MustCompile(`(?i)\b(?:from|between)\s+` + yearExpr + `\s+(?:to|and|until|through|till)\s+` + yearExpr + `\b`)
	yearDashRe  = regexp.MustCompile(`\b` + yearExpr + `\s*(?:-|\x{2013}|to)\s*` + yearExpr + `\b`)
	sinceRe     = regexp.MustCompile(`(?i)\b(?:since|from|starting(?:\s+in)?)\s+` + yearExpr + `\b`)
	untilRe     = regexp.MustCompile(`(?i)\b(until|till|through|up\s+to|before)\s+` + yearExpr + `\b`)
	yearRe      = regexp.MustCompile(`\b` + yearExpr + `\b`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "fifteen": 15, "twenty": 20, "a couple of": 2, "a few": 3,
}

const numberWordExpr = `one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|a couple of|a few`

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func yearStart(y int) time.Time { return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC) }
func yearEnd(y int) time.Time   { return time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC) }

// parseDateRange recognizes the first temporal expression in text, in order
// of specificity: explicit dates, relative periods, year ranges, open-ended
// years, then bare years. It returns nil when nothing is recognized.
func parseDateRange(text string, now time.Time) *DateRange {
	today := day(now)
	for _, parse := range []func(string, time.Time) *DateRange{
		parseExplicitDates,
		parseRelative,
		parseYearRange,
		parseOpenYear,
		parseBareYears,
	} {
		if r := parse(text, today); r != nil {
			return r
		}
	}
	return nil
}

func parseExplicitDates(text string, _ time.Time) *DateRange {
	var dates []time.Time
	var firstAt int
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		y, _ := strconv.Atoi(text[m[2]:m[3]])
		mo, _ := strconv.Atoi(text[m[4]:m[5]])
		d, _ := strconv.Atoi(text[m[6]:m[7]])
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		// time.Date normalizes out-of-range values; reject those.
		if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
			continue
		}
		if len(dates) == 0 {
			firstAt = m[0]
		}
		dates = append(dates, t)
	}

	switch len(dates) {
	case 0:
		return nil
	case 1:
		if endMarkerRe.MatchString(text[:firstAt]) {
			return &DateRange{End: dates[0]}
		}
		return &DateRange{Start: dates[0]}
	}
	lo, hi := dates[0], dates[0]
	for _, t := range dates[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return &DateRange{Start: lo, End: hi}
}

func parseRelative(text string, today time.Time) *DateRange {
	if m := relativeRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = numberWords[strings.ToLower(m[1])]
		}
		if n <= 0 {
			return nil
		}
		return &DateRange{Start: back(today, strings.ToLower(m[2]), n), End: today}
	}

	if ytdRe.MatchString(text) {
		return &DateRange{Start: yearStart(today.Year()), End: today}
	}

	m := singleRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	which, unit := strings.ToLower(m[1]), strings.ToLower(m[2])
	switch which {
	case "this", "current":
		switch unit {
		case "year":
			return &DateRange{Start: yearStart(today.Year()), End: today}
		case "month":
			return &DateRange{Start: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), End: today}
		default:
			return &DateRange{Start: today.AddDate(0, 0, -int(today.Weekday()+6)%7), End: today}
		}
	case "last", "previous":
		// Calendar periods: "last year" in 2025 is all of 2024.
		switch unit {
		case "year":
			y := today.Year() - 1
			return &DateRange{Start: yearStart(y), End: yearEnd(y)}
		case "month":
			first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
			return &DateRange{Start: first.AddDate(0, -1, 0), End: first.AddDate(0, 0, -1)}
		}
	}
	// "past year", "past month", "last week": rolling.
	return &DateRange{Start: back(today, unit, 1), End: today}
}

func back(today time.Time, unit string, n int) time.Time {
	switch strings.TrimSuffix(unit, "s") {
	case "year":
		return today.AddDate(-n, 0, 0)
	case "month":
		return today.AddDate(0, -n, 0)
	case "week":
		return today.AddDate(0, 0, -7*n)
	default:
		return today.AddDate(0, 0, -n)
	}
}

func parseYearRange(text string, _ time.Time) *DateRange {
	m := yearRangeRe.FindStringSubmatch(text)
	if m == nil {
		m = yearDashRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	if a > b {
		a, b = b, a
	}
	return &DateRange{Start: yearStart(a), End: yearEnd(b)}
}

func parseOpenYear(text string, today time.Time) *DateRange {
	if m := sinceRe.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return &DateRange{Start: yearStart(y), End: today}
	}
	if m := untilRe.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[2])
		if strings.EqualFold(m[1], "before") {
			y--
		}
		return &DateRange{End: yearEnd(y)}
	}
	return nil
}

func parseBareYears(text string, _ time.Time) *DateRange {
	matches := yearRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	lo, hi := 9999, 0
	for _, m := range matches {
		y, _ := strconv.Atoi(m[1])
		lo = min(lo, y)
		hi = max(hi, y)
	}
	return &DateRange{Start: yearStart(lo), End: yearEnd(hi)}
}

// clamp bounds r to span. A range with no overlap with the span is
// discarded.
func clamp(r *DateRange, span DateRange) *DateRange {
	if r == nil {
		return nil
	}
	if (!r.End.IsZero() && !span.Start.IsZero() && r.End.Before(span.Start)) ||
		(!r.Start.IsZero() && !span.End.IsZero() && r.Start.After(span.End)) {
		return nil
	}
	out := *r
	if !out.Start.IsZero() {
		if !span.Start.IsZero() && out.Start.Before(span.Start) {
			out.Start = span.Start
		}
		if !span.End.IsZero() && out.Start.After(span.End) {
			out.Start = time.Time{}
		}
	}
	if !out.End.IsZero() {
		if !span.End.IsZero() && out.End.After(span.End) {
			out.End = span.End
		}
		if !span.Start.IsZero() && out.End.Before(span.Start) {
			out.End = time.Time{}
		}
	}
	if out.Start.IsZero() && out.End.IsZero() {
		return nil
	}
	return &out
}
