package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore implements Store using Redis.
// Each session is a JSON header plus a list of turns; both keys carry the
// session TTL and are refreshed on every write.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	maxTurns int
	locks    *Locker
	now      func() time.Time
	logger   logrus.FieldLogger
	mu       sync.RWMutex
	closed   bool
}

// NewRedisStore connects to the server named in cfg.Redis.
func NewRedisStore(cfg Config, opts ...Option) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg, opts...), nil
}

// NewRedisStoreFromClient creates a store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, cfg Config, opts ...Option) *RedisStore {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	return &RedisStore{
		client:   client,
		prefix:   cfg.Redis.Prefix,
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		locks:    NewLocker(),
		now:      o.now,
		logger:   o.logger,
	}
}

// Key helpers
func (b *RedisStore) metaKey(id string) string {
	return b.prefix + "meta:" + id
}

func (b *RedisStore) turnsKey(id string) string {
	return b.prefix + "turns:" + id
}

func (b *RedisStore) keyTTL() time.Duration {
	if b.ttl > 0 {
		return b.ttl
	}
	return 0
}

func (b *RedisStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func (b *RedisStore) loadHeader(ctx context.Context, id string) (*header, error) {
	data, err := b.client.Get(ctx, b.metaKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if (&Session{LastActiveAt: h.LastActiveAt}).Expired(b.now(), b.ttl) {
		return nil, ErrSessionNotFound
	}
	return &h, nil
}

func (b *RedisStore) saveHeader(ctx context.Context, pipe redis.Pipeliner, h *header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe.Set(ctx, b.metaKey(h.ID), data, b.keyTTL())
	return nil
}

// Get loads the header and turns of a session.
func (b *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	h, err := b.loadHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := b.client.LRange(ctx, b.turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	turns := make([]Turn, 0, len(data))
	for _, d := range data {
		var t Turn
		if err := json.Unmarshal([]byte(d), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}

	return &Session{
		ID:           h.ID,
		Turns:        turns,
		LastIntent:   h.LastIntent,
		CreatedAt:    h.CreatedAt,
		LastActiveAt: h.LastActiveAt,
	}, nil
}

// Create writes a new session header.
func (b *RedisStore) Create(ctx context.Context) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	now := b.now()
	h := &header{ID: uuid.NewString(), CreatedAt: now, LastActiveAt: now}

	pipe := b.client.TxPipeline()
	if err := b.saveHeader(ctx, pipe, h); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	b.logger.WithField("session_id", h.ID).Debug("session created")
	return &Session{ID: h.ID, Turns: []Turn{}, CreatedAt: now, LastActiveAt: now}, nil
}

// AppendTurn pushes a turn and trims the list to MaxTurns. The header and
// the list are written in one transaction.
func (b *RedisStore) AppendTurn(ctx context.Context, id string, turn Turn, last *intent.Intent) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	return b.update(ctx, id, func(pipe redis.Pipeliner, h *header) error {
		pipe.RPush(ctx, b.turnsKey(id), data)
		if b.maxTurns > 0 {
			pipe.LTrim(ctx, b.turnsKey(id), int64(-b.maxTurns), -1)
		}
		if last != nil {
			c := last.Clone()
			h.LastIntent = &c
		}
		return nil
	})
}

// SetReply rewrites the list entry of the turn with the given id.
func (b *RedisStore) SetReply(ctx context.Context, id, turnID, text string) error {
	return b.update(ctx, id, func(pipe redis.Pipeliner, _ *header) error {
		data, err := b.client.LRange(ctx, b.turnsKey(id), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("load turns: %w", err)
		}
		// Newest first: the reply being filled in is almost always the last turn.
		for i := len(data) - 1; i >= 0; i-- {
			var t Turn
			if err := json.Unmarshal([]byte(data[i]), &t); err != nil {
				return fmt.Errorf("unmarshal turn: %w", err)
			}
			if t.ID != turnID {
				continue
			}
			t.Assistant.Text = text
			out, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal turn: %w", err)
			}
			pipe.LSet(ctx, b.turnsKey(id), int64(i), out)
			return nil
		}
		return ErrTurnNotFound
	})
}

func (b *RedisStore) update(ctx context.Context, id string, fn func(redis.Pipeliner, *header) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	unlock := b.locks.Lock(id)
	defer unlock()

	h, err := b.loadHeader(ctx, id)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	if err := fn(pipe, h); err != nil {
		return err
	}
	h.LastActiveAt = b.now()
	if err := b.saveHeader(ctx, pipe, h); err != nil {
		return err
	}
	if ttl := b.keyTTL(); ttl > 0 {
		pipe.Expire(ctx, b.turnsKey(id), ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// EvictExpired scans session headers and deletes those idle past the TTL.
// Redis also expires the keys on its own once the key TTL runs out.
func (b *RedisStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	evicted := 0
	iter := b.client.Scan(ctx, 0, b.prefix+"meta:*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), b.prefix+"meta:")
		removed, err := b.evictOne(ctx, id, now)
		if err != nil {
			return evicted, err
		}
		if removed {
			evicted++
		}
	}
	if err := iter.Err(); err != nil {
		return evicted, fmt.Errorf("scan sessions: %w", err)
	}

	if evicted > 0 {
		b.logger.WithField("evicted", evicted).Debug("expired sessions evicted")
	}
	return evicted, nil
}

func (b *RedisStore) evictOne(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := b.locks.Lock(id)
	defer unlock()

	data, err := b.client.Get(ctx, b.metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		b.logger.WithError(err).WithField("session_id", id).Warn("dropping unreadable session")
	} else if !(&Session{LastActiveAt: h.LastActiveAt}).Expired(now, b.ttl) {
		return false, nil
	}

	if err := b.client.Del(ctx, b.metaKey(id), b.turnsKey(id)).Err(); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return true, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisStore) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the store.
func (b *RedisStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}
