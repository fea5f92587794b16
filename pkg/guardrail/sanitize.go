package guardrail

import (
	"regexp"
	"strings"
)

// MaxSanitizedInput caps the rune length of sanitized user input.
const MaxSanitizedInput = 5000

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	sessionIDRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)
)

// blockMessages never include any part of the blocked text.
var blockMessages = map[Category]string{
	CategoryRateLimit:          "Rate limit exceeded. Please wait a moment before making another request.",
	CategoryDataExtraction:     "Requests for bulk data extraction or complete datasets are not permitted. Please request specific insights or time periods instead.",
	CategoryReverseEngineering: "Questions about data collection methods, algorithms, or proprietary methodologies cannot be answered. I can help with analytical insights instead.",
	CategoryUnethicalUse:       "This query may promote unethical use of data. Please rephrase your request to focus on legitimate analytical insights.",
}

// BlockMessage returns the fixed explanation shown for a blocked category.
func BlockMessage(cat Category) string {
	if msg, ok := blockMessages[cat]; ok {
		return msg
	}
	return "This request cannot be processed."
}

// SanitizeInput strips control characters (keeping tabs and newlines), caps
// the length and trims surrounding whitespace.
func SanitizeInput(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	if r := []rune(text); len(r) > MaxSanitizedInput {
		text = string(r[:MaxSanitizedInput])
	}
	return strings.TrimSpace(text)
}

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	return sessionIDRe.MatchString(id)
}

// SanitizeResponse removes lines that look like raw CSV rows from model
// output: more than five comma separated fields, over 70% of them numeric.
func SanitizeResponse(response string) string {
	lines := strings.Split(response, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if looksLikeRow(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func looksLikeRow(line string) bool {
	if !strings.Contains(line, ",") {
		return false
	}
	parts := strings.Split(line, ",")
	if len(parts) <= 5 {
		return false
	}
	numeric := 0
	for _, p := range parts {
		if isNumeric(strings.TrimSpace(p)) {
			numeric++
		}
	}
	return float64(numeric) > float64(len(parts))*0.7
}

func isNumeric(s string) bool {
	s = strings.NewReplacer(".", "", "-", "").Replace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
