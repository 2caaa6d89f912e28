package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewRedisStoreFromClient(client, "pagefront-test:")
}

func TestRedisStore_SetAndGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "page:/foo", "<p>foo</p>", []string{"product", "P1"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e, err := s.Get(ctx, "page:/foo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.Body != "<p>foo</p>" {
		t.Fatalf("unexpected body %q", e.Body)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "P1" || e.Tags[1] != "product" {
		t.Fatalf("unexpected tags %v", e.Tags)
	}
	if e.ExpiresAt.IsZero() {
		t.Fatal("expected expiry")
	}

	if _, err := s.Get(ctx, "page:/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_Invalidate(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "page:/p1", "p1", []string{"product", "P1"}, time.Minute)
	s.Set(ctx, "page:/p2", "p2", []string{"product", "P2"}, time.Minute)
	s.Set(ctx, "page:/c1", "c1", []string{"category"}, time.Minute)

	n, err := s.Invalidate(ctx, "product")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, err := s.Get(ctx, "page:/c1"); err != nil {
		t.Fatalf("category page should survive: %v", err)
	}
	if n, _ := s.Invalidate(ctx, "P1"); n != 0 {
		t.Fatalf("expected stale tag to remove nothing, got %d", n)
	}
}

func TestRedisStore_RewriteReplacesTagSet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "page:/foo", "v1", []string{"old"}, time.Minute)
	s.Set(ctx, "page:/foo", "v2", []string{"new"}, time.Minute)

	if n, _ := s.Invalidate(ctx, "old"); n != 0 {
		t.Fatalf("old tag removed %d entries", n)
	}
	if n, _ := s.Invalidate(ctx, "new"); n != 1 {
		t.Fatalf("expected new tag to remove 1, got %d", n)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	s := NewRedisStore(RedisStoreConfig{Addr: "127.0.0.1:1"})
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := s.Get(ctx, "page:/x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := s.Set(ctx, "page:/x", "b", nil, time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
