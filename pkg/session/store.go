package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/sirupsen/logrus"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned for missing and expired sessions alike.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageClosed is returned when operating on a closed store.
	ErrStorageClosed = errors.New("session store is closed")
	// ErrUnknownStore is returned by NewStore for an unsupported backend name.
	ErrUnknownStore = errors.New("unknown session store")
	// ErrTurnNotFound is returned by SetReply when the turn is no longer held.
	ErrTurnNotFound = errors.New("turn not found")
)

// Store holds sessions keyed by an opaque id.
// Implementations must be safe for concurrent use and serialize mutations of
// the same session.
type Store interface {
	// Get returns a copy of the session.
	// Returns ErrSessionNotFound if the session is missing or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Create starts a session with a fresh unique id.
	Create(ctx context.Context) (*Session, error)

	// AppendTurn appends a turn and refreshes the session's activity time.
	// When last is non-nil it also replaces the session's last intent; both
	// changes are applied together or not at all.
	AppendTurn(ctx context.Context, id string, turn Turn, last *intent.Intent) error

	// SetReply replaces the assistant text of a stored turn.
	// Returns ErrTurnNotFound if the turn has been trimmed away.
	SetReply(ctx context.Context, id, turnID, text string) error

	// EvictExpired removes sessions idle past the TTL and reports how many
	// were removed.
	EvictExpired(ctx context.Context, now time.Time) (int, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

type options struct {
	now    func() time.Time
	logger logrus.FieldLogger
}

// Option configures a store.
type Option func(*options)

// WithClock sets the clock used for activity times and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStore creates the backend named by cfg.Store.
func NewStore(cfg Config, opts ...Option) (Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Store {
	case StoreMemory:
		return NewMemoryStore(cfg, opts...), nil
	case StoreRedis:
		return NewRedisStore(cfg, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Store)
	}
}
