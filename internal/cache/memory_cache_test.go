package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore(4, 0)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "page:/foo", "<p>foo</p>", []string{"P1", "category", "P1"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	e, err := s.Get(ctx, "page:/foo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.Body != "<p>foo</p>" {
		t.Fatalf("expected body, got %q", e.Body)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "P1" || e.Tags[1] != "category" {
		t.Fatalf("expected deduplicated sorted tags, got %v", e.Tags)
	}
	if e.ExpiresAt.IsZero() {
		t.Fatal("expected expiry to be set")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(4, 0)
	defer s.Close()

	if _, err := s.Get(context.Background(), "page:/nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(4, 0)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "page:/short", "x", []string{"home"}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, err := s.Get(ctx, "page:/short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got: %v", err)
	}

	if n := s.evictExpired(time.Now()); n != 1 {
		t.Fatalf("expected 1 evicted entry, got %d", n)
	}
	if n, _ := s.Invalidate(ctx, "home"); n != 0 {
		t.Fatalf("evicted entry must leave the tag index, removed %d", n)
	}
}

func TestMemoryStore_InvalidateRemovesOnlyTagged(t *testing.T) {
	s := NewMemoryStore(8, 0)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "page:/p1", "p1", []string{"product", "P1"}, time.Minute)
	s.Set(ctx, "page:/p2", "p2", []string{"product", "P2"}, time.Minute)
	s.Set(ctx, "page:/c1", "c1", []string{"category", "C1"}, time.Minute)
	s.Set(ctx, "page:/home", "home", nil, time.Minute)

	n, err := s.Invalidate(ctx, "product")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}

	for _, key := range []string{"page:/p1", "page:/p2"} {
		if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s should be invalidated", key)
		}
	}
	for _, key := range []string{"page:/c1", "page:/home"} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("%s should survive: %v", key, err)
		}
	}

	// P1 pointed at an entry that is gone now.
	if n, _ := s.Invalidate(ctx, "P1"); n != 0 {
		t.Fatalf("expected 0 removed for stale tag, got %d", n)
	}
}

func TestMemoryStore_DisjointTags(t *testing.T) {
	s := NewMemoryStore(8, 0)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s.Set(ctx, fmt.Sprintf("page:/a/%d", i), "a", []string{"t1"}, time.Minute)
		s.Set(ctx, fmt.Sprintf("page:/b/%d", i), "b", []string{"t2"}, time.Minute)
	}

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i, tag := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			results[i], _ = s.Invalidate(ctx, tag)
		}(i, tag)
	}
	wg.Wait()

	if results[0] != 50 || results[1] != 50 {
		t.Fatalf("expected 50/50 removed, got %v", results)
	}
	if s.count() != 0 {
		t.Fatalf("expected empty store, got %d", s.count())
	}
}

func TestMemoryStore_InvalidateLeavesOtherTag(t *testing.T) {
	s := NewMemoryStore(8, 0)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "page:/one", "1", []string{"t1"}, time.Minute)
	s.Set(ctx, "page:/two", "2", []string{"t2"}, time.Minute)

	s.Invalidate(ctx, "t1")

	e, err := s.Get(ctx, "page:/two")
	if err != nil || e.Body != "2" {
		t.Fatalf("entry tagged only t2 must be intact, got %v, %v", e, err)
	}
}

func TestMemoryStore_RewriteReplacesTagSet(t *testing.T) {
	s := NewMemoryStore(4, 0)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "page:/foo", "v1", []string{"old"}, time.Minute)
	s.Set(ctx, "page:/foo", "v2", []string{"new"}, time.Minute)

	if n, _ := s.Invalidate(ctx, "old"); n != 0 {
		t.Fatalf("old tag must not reach the rewritten entry, removed %d", n)
	}
	e, err := s.Get(ctx, "page:/foo")
	if err != nil || e.Body != "v2" {
		t.Fatalf("expected v2, got %v, %v", e, err)
	}
	if n, _ := s.Invalidate(ctx, "new"); n != 1 {
		t.Fatalf("expected 1 removed for new tag, got %d", n)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(16, 0)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("page:/%d", i%20)
				tag := fmt.Sprintf("t%d", i%5)
				switch i % 3 {
				case 0:
					s.Set(ctx, key, "body", []string{tag, "all"}, time.Minute)
				case 1:
					s.Get(ctx, key)
				default:
					s.Invalidate(ctx, tag)
				}
			}
		}(w)
	}
	wg.Wait()

	s.Invalidate(ctx, "all")
	if s.count() != 0 {
		t.Fatalf("every entry carries \"all\", expected empty store, got %d", s.count())
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(2, 0)
	s.Close()
	s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "k", "v", nil, time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPageKey(t *testing.T) {
	if got := PageKey("/c/shoes?page=2"); got != "page:/c/shoes?page=2" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryStore(1, 2)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "page:/a", "a", []string{"ta"}, time.Minute)
	s.Set(ctx, "page:/b", "b", []string{"tb", "shared"}, time.Minute)
	if _, err := s.Get(ctx, "page:/a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	s.Set(ctx, "page:/c", "c", []string{"shared"}, time.Minute)

	if _, err := s.Get(ctx, "page:/b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("least recently used entry should be evicted, got %v", err)
	}
	for _, key := range []string{"page:/a", "page:/c"} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("%s should survive: %v", key, err)
		}
	}
	if s.count() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.count())
	}
	if n, _ := s.Invalidate(ctx, "tb"); n != 0 {
		t.Fatalf("evicted entry must leave the tag index, removed %d", n)
	}
	if n, _ := s.Invalidate(ctx, "shared"); n != 1 {
		t.Fatalf("expected only page:/c under shared, removed %d", n)
	}
}

func TestMemoryStore_UnboundedWithoutLimit(t *testing.T) {
	s := NewMemoryStore(2, 0)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s.Set(ctx, fmt.Sprintf("page:/p?x=%d", i), "x", nil, time.Minute)
	}
	if s.count() != 100 {
		t.Fatalf("expected 100 entries, got %d", s.count())
	}
}
