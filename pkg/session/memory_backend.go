package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStore keeps sessions in process memory.
// Every write re-arms the cache item's TTL; reads additionally check idle
// time against the store clock so expiry is visible before eviction runs.
type MemoryStore struct {
	cache    *cache.Cache
	ttl      time.Duration
	maxTurns int
	locks    *Locker
	now      func() time.Time
	logger   logrus.FieldLogger
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg Config, opts ...Option) *MemoryStore {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	expiration := cfg.TTL
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}

	return &MemoryStore{
		// Eviction is driven by the janitor through EvictExpired.
		cache:    cache.New(expiration, 0),
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		locks:    NewLocker(),
		now:      o.now,
		logger:   o.logger,
	}
}

func (m *MemoryStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	return nil
}

func (m *MemoryStore) load(id string) (*Session, error) {
	v, found := m.cache.Get(id)
	if !found {
		return nil, ErrSessionNotFound
	}
	sess := v.(*Session)
	if sess.Expired(m.now(), m.ttl) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	sess, err := m.load(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Create starts a new session.
func (m *MemoryStore) Create(ctx context.Context) (*Session, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	now := m.now()
	sess := &Session{
		ID:           uuid.NewString(),
		Turns:        []Turn{},
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.cache.Set(sess.ID, sess, cache.DefaultExpiration)

	m.logger.WithField("session_id", sess.ID).Debug("session created")
	return sess.Clone(), nil
}

// AppendTurn appends a turn, dropping the oldest beyond MaxTurns.
func (m *MemoryStore) AppendTurn(ctx context.Context, id string, turn Turn, last *intent.Intent) error {
	return m.update(id, func(s *Session) error {
		s.Turns = trimTurns(append(s.Turns, turn), m.maxTurns)
		if last != nil {
			c := last.Clone()
			s.LastIntent = &c
		}
		return nil
	})
}

// SetReply replaces the assistant text of the turn with the given id.
func (m *MemoryStore) SetReply(ctx context.Context, id, turnID, text string) error {
	return m.update(id, func(s *Session) error {
		i := slices.IndexFunc(s.Turns, func(t Turn) bool { return t.ID == turnID })
		if i < 0 {
			return ErrTurnNotFound
		}
		s.Turns[i].Assistant.Text = text
		return nil
	})
}

func (m *MemoryStore) update(id string, fn func(*Session) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	sess, err := m.load(id)
	if err != nil {
		return err
	}
	next := sess.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.LastActiveAt = m.now()
	m.cache.Set(id, next, cache.DefaultExpiration)
	return nil
}

// EvictExpired removes sessions idle past the TTL as of now.
func (m *MemoryStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	evicted := 0
	for id, item := range m.cache.Items() {
		sess, ok := item.Object.(*Session)
		if !ok || !sess.Expired(now, m.ttl) {
			continue
		}
		unlock := m.locks.Lock(id)
		// Re-check under the lock; a concurrent append may have refreshed it.
		if v, found := m.cache.Get(id); found && v.(*Session).Expired(now, m.ttl) {
			m.cache.Delete(id)
			evicted++
		}
		unlock()
	}
	m.cache.DeleteExpired()

	if evicted > 0 {
		m.logger.WithField("evicted", evicted).Debug("expired sessions evicted")
	}
	return evicted, nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

// Ping always succeeds while the store is open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.checkOpen()
}

// Close drops all sessions.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cache.Flush()
	return nil
}
