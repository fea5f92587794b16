package session

import (
	"context"
	"testing"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func setupMiniredis(t *testing.T, cfg Config, clock *testClock) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg.Redis.Prefix = "test:"
	logger, _ := test.NewNullLogger()
	store := NewRedisStoreFromClient(client, cfg, WithClock(clock.Now), WithLogger(logger))

	t.Cleanup(func() {
		_ = store.Close()
	})

	return mr, store
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T, cfg Config, clock *testClock) Store {
		_, store := setupMiniredis(t, cfg, clock)
		return store
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	clock := newTestClock()
	mr, store := setupMiniredis(t, Config{TTL: time.Hour}, clock)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.AppendTurn(ctx, sess.ID, NewTurn("show France", "ok", false, clock.Now()), nil); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if !mr.Exists("test:meta:" + sess.ID) {
		t.Error("expected session header key")
	}
	if !mr.Exists("test:turns:" + sess.ID) {
		t.Error("expected turns list key")
	}
	if ttl := mr.TTL("test:meta:" + sess.ID); ttl != time.Hour {
		t.Errorf("expected header ttl 1h, got %v", ttl)
	}
	if ttl := mr.TTL("test:turns:" + sess.ID); ttl != time.Hour {
		t.Errorf("expected turns ttl 1h, got %v", ttl)
	}
}

func TestRedisStore_KeyTTLExpiry(t *testing.T) {
	clock := newTestClock()
	mr, store := setupMiniredis(t, Config{TTL: 30 * time.Minute}, clock)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Redis drops the keys itself even if the janitor never runs.
	mr.FastForward(31 * time.Minute)

	if _, err := store.Get(ctx, sess.ID); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStore_IntentRoundTrip(t *testing.T) {
	clock := newTestClock()
	_, store := setupMiniredis(t, Config{}, clock)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	want := intent.Intent{
		Countries: []string{"FR", "DE"},
		DateRange: &intent.DateRange{
			Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		WantsChart: true,
		ChartType:  intent.ChartComparison,
	}
	if err := store.AppendTurn(ctx, sess.ID, NewTurn("compare France and Germany in 2022", "ok", false, clock.Now()), &want); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastIntent == nil || !got.LastIntent.Equal(want) {
		t.Errorf("intent mismatch: got %+v, want %+v", got.LastIntent, want)
	}
}

func TestRedisStore_EvictDropsUnreadable(t *testing.T) {
	clock := newTestClock()
	mr, store := setupMiniredis(t, Config{}, clock)
	ctx := context.Background()

	if err := mr.Set("test:meta:broken", "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	n, err := store.EvictExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if mr.Exists("test:meta:broken") {
		t.Error("unreadable header should be removed")
	}
}

func TestRedisStore_PingAfterServerClose(t *testing.T) {
	clock := newTestClock()
	mr, store := setupMiniredis(t, Config{}, clock)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	mr.Close()

	if err := store.Ping(ctx); err == nil {
		t.Error("expected ping error after server shutdown")
	}
	if _, err := store.Get(ctx, "any"); err == nil || err == ErrSessionNotFound {
		t.Errorf("expected a store error, got %v", err)
	}
}
