// Package guardrail classifies user messages against policy categories before
// any intent extraction or data access happens.
package guardrail

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxInputSize bounds the number of runes inspected by the content rules.
const MaxInputSize = 10 * 1024

// Category is a policy category a message can fall into.
type Category string

const (
	CategoryNone               Category = "none"
	CategoryRateLimit          Category = "rate_limit"
	CategoryDataExtraction     Category = "data_extraction"
	CategoryReverseEngineering Category = "reverse_engineering"
	CategoryUnethicalUse       Category = "unethical_use"
)

// priority lists the content categories in evaluation order. Rate limiting
// is checked before any of them.
var priority = []Category{
	CategoryDataExtraction,
	CategoryReverseEngineering,
	CategoryUnethicalUse,
}

// Categories returns every blocking category in priority order.
func Categories() []Category {
	return []Category{
		CategoryRateLimit,
		CategoryDataExtraction,
		CategoryReverseEngineering,
		CategoryUnethicalUse,
	}
}

// Valid reports whether c is a known category label.
func (c Category) Valid() bool {
	switch c {
	case CategoryNone, CategoryRateLimit, CategoryDataExtraction,
		CategoryReverseEngineering, CategoryUnethicalUse:
		return true
	}
	return false
}

// Verdict is the outcome of classifying one message.
type Verdict struct {
	Category       Category `json:"category"`
	MatchedPattern string   `json:"matched_pattern,omitempty"`
}

// Allowed reports whether the verdict lets the message through.
func (v Verdict) Allowed() bool {
	return v.Category == CategoryNone || v.Category == ""
}

// Rule pairs a pattern with the category it signals.
type Rule struct {
	Category    Category
	Pattern     *regexp.Regexp
	Description string
}

// Engine evaluates messages against the rate limiter and the rule table.
type Engine struct {
	mu      sync.RWMutex
	rules   []Rule
	limiter *Limiter
	content bool
	logger  logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimiter attaches a rate limiter. Without one the rate_limit category is
// never produced.
func WithLimiter(l *Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithContentRules toggles the content categories. The limiter stays active.
func WithContentRules(enabled bool) Option {
	return func(e *Engine) {
		e.content = enabled
	}
}

// WithRules replaces the default rule table.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		e.rules = append([]Rule(nil), rules...)
	}
}

// WithLogger sets the logger used for blocked messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine loaded with the default rule table.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:   DefaultRules(),
		content: true,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule appends a rule. It is evaluated after existing rules of the same
// category.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// Classify returns the verdict for text sent by the caller identified by key.
// Every call counts against the caller's rate window, whatever the outcome.
func (e *Engine) Classify(key, text string) Verdict {
	normalized := Normalize(text)

	if e.limiter != nil {
		if reason, limited := e.limiter.Hit(key, normalized); limited {
			e.logger.WithFields(logrus.Fields{
				"key":       key,
				"reason":    reason,
				"in_window": e.limiter.count(key),
			}).Warn("message blocked by rate limit")
			return Verdict{Category: CategoryRateLimit, MatchedPattern: reason}
		}
	}

	if !e.content {
		return Verdict{Category: CategoryNone}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cat := range priority {
		if r, ok := matchCategory(e.rules, cat, normalized); ok {
			e.logger.WithFields(logrus.Fields{
				"key":      key,
				"category": cat,
				"rule":     r.Description,
			}).Warn("message blocked by guardrail")
			return Verdict{Category: cat, MatchedPattern: r.Description}
		}
	}

	return Verdict{Category: CategoryNone}
}

// Matches reports whether text matches any rule of the given category,
// without touching the rate limiter.
func (e *Engine) Matches(text string, cat Category) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := matchCategory(e.rules, cat, Normalize(text))
	return ok
}

var defaultEngine = sync.OnceValue(func() *Engine {
	return NewEngine()
})

// MatchesCategory checks text against the default rule table.
func MatchesCategory(text string, cat Category) bool {
	return defaultEngine().Matches(text, cat)
}

func matchCategory(rules []Rule, cat Category, text string) (Rule, bool) {
	for _, r := range rules {
		if r.Category != cat {
			continue
		}
		if r.Pattern.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize prepares text for matching: invisible characters are removed,
// homoglyphs folded to ASCII, whitespace collapsed and case lowered.
func Normalize(text string) string {
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n >= MaxInputSize {
			break
		}
		n++
		if isZeroWidth(r) {
			continue
		}
		if folded, ok := homoglyphs[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	out := whitespace.ReplaceAllString(b.String(), " ")
	return strings.ToLower(strings.TrimSpace(out))
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD', '\u2060':
		return true
	}
	return false
}

var homoglyphs = map[rune]rune{
	'\u0430': 'a', // Cyrillic а
	'\u0435': 'e', // Cyrillic е
	'\u043E': 'o', // Cyrillic о
	'\u0440': 'p', // Cyrillic р
	'\u0441': 'c', // Cyrillic с
	'\u0445': 'x', // Cyrillic х
	'\u0443': 'y', // Cyrillic у
	'\u0456': 'i', // Cyrillic і
	'\u0391': 'A', // Greek Α
	'\u0392': 'B', // Greek Β
	'\u0395': 'E', // Greek Ε
	'\u0397': 'H', // Greek Η
	'\u0399': 'I', // Greek Ι
	'\u039A': 'K', // Greek Κ
	'\u039C': 'M', // Greek Μ
	'\u039D': 'N', // Greek Ν
	'\u039F': 'O', // Greek Ο
	'\u03A1': 'P', // Greek Ρ
	'\u03A4': 'T', // Greek Τ
	'\u03A7': 'X', // Greek Χ
}
