package guardrail

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequests is the number of messages allowed per window.
	DefaultRequests = 10
	// DefaultWindow is the length of the rate window.
	DefaultWindow = time.Minute

	repeatMinHits     = 5
	repeatMaxDistinct = 2
	repeatPrefixLen   = 50
)

// Limit reasons reported in Verdict.MatchedPattern.
const (
	ReasonRateExceeded = "rate limit exceeded"
	ReasonRepetitive   = "repetitive queries"
)

// Limiter counts messages per caller key. A caller is limited when its token
// bucket runs dry, or when its recent messages are near-identical repeats.
type Limiter struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	clients  map[string]*clientWindow
	now      func() time.Time
}

type clientWindow struct {
	bucket   *rate.Limiter
	hits     []hit
	lastSeen time.Time
}

type hit struct {
	at     time.Time
	prefix string
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter allows requests messages per window for each key. A
// non-positive requests disables the token bucket; the repetition check still
// applies.
func NewLimiter(requests int, window time.Duration, opts ...LimiterOption) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		requests: requests,
		window:   window,
		clients:  make(map[string]*clientWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hit counts one message from key and reports whether the caller is limited.
func (l *Limiter) Hit(key, text string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &clientWindow{bucket: l.newBucket()}
		l.clients[key] = c
	}
	c.lastSeen = now

	cutoff := now.Add(-l.window)
	kept := c.hits[:0]
	for _, h := range c.hits {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	c.hits = append(kept, hit{at: now, prefix: prefix(text)})

	if !c.bucket.AllowN(now, 1) {
		return ReasonRateExceeded, true
	}

	if len(c.hits) >= repeatMinHits {
		distinct := make(map[string]struct{}, repeatMaxDistinct+1)
		for _, h := range c.hits {
			distinct[h.prefix] = struct{}{}
			if len(distinct) > repeatMaxDistinct {
				break
			}
		}
		if len(distinct) <= repeatMaxDistinct {
			return ReasonRepetitive, true
		}
	}

	return "", false
}

// count returns the number of messages from key inside the current window.
func (l *Limiter) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		return 0
	}
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, h := range c.hits {
		if h.at.After(cutoff) {
			n++
		}
	}
	return n
}

// Prune forgets keys idle for longer than the window and returns how many
// were dropped.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	dropped := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			dropped++
		}
	}
	return dropped
}

func (l *Limiter) newBucket() *rate.Limiter {
	if l.requests <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := l.window / time.Duration(l.requests)
	return rate.NewLimiter(rate.Every(every), l.requests)
}

func prefix(text string) string {
	r := []rune(text)
	if len(r) > repeatPrefixLen {
		r = r[:repeatPrefixLen]
	}
	return string(r)
}
