package invalidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pagefront/internal/cache"
)

const secret = "aeSu7aip"

func seededStore(t *testing.T) *cache.MemoryStore {
	t.Helper()
	s := cache.NewMemoryStore(8, 0)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	s.Set(ctx, "page:/", "home", []string{"home"}, time.Minute)
	s.Set(ctx, "page:/p/1", "p1", []string{"product", "P1"}, time.Minute)
	s.Set(ctx, "page:/p/2", "p2", []string{"product", "P2"}, time.Minute)
	s.Set(ctx, "page:/c/12", "c12", []string{"category", "category-12"}, time.Minute)
	s.Set(ctx, "page:/blog", "blog", []string{"blog"}, time.Minute)
	return s
}

func newService(store cache.Store, log *zap.Logger) *Service {
	registry := NewRegistry([]string{"home", "product", "category", "P"})
	return NewService(store, registry, Options{Enabled: true, Key: secret, Workers: 2}, log, nil)
}

func TestRegistry_Expand(t *testing.T) {
	r := NewRegistry([]string{"product", "category-", " P "})

	tests := []struct {
		raw         string
		wantLegal   []string
		wantSkipped []string
	}{
		{"*", []string{"product", "category-", "P"}, nil},
		{"product", []string{"product"}, nil},
		{"category-12", []string{"category-12"}, nil},
		{"P1234, blog ,,product,P1234", []string{"P1234", "product"}, []string{"blog"}},
		{"category", nil, []string{"category"}},
	}
	for _, tt := range tests {
		legal, skipped := r.Expand(tt.raw)
		if !equal(legal, tt.wantLegal) || !equal(skipped, tt.wantSkipped) {
			t.Errorf("Expand(%q) = %v, %v; want %v, %v", tt.raw, legal, skipped, tt.wantLegal, tt.wantSkipped)
		}
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInvalidate_Disabled(t *testing.T) {
	svc := NewService(cache.NewNoopStore(), NewRegistry(nil), Options{Enabled: false}, zap.NewNop(), nil)

	res, err := svc.Invalidate(context.Background(), "", "whatever")
	if err != nil {
		t.Fatalf("disabled invalidation must succeed, got %v", err)
	}
	if !res.Disabled {
		t.Fatal("expected disabled result")
	}
}

func TestInvalidate_Unauthorized(t *testing.T) {
	store := seededStore(t)
	svc := newService(store, zap.NewNop())

	for _, key := range []string{"", "wrong", secret + "x"} {
		if _, err := svc.Invalidate(context.Background(), "*", key); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("key %q: expected ErrUnauthorized, got %v", key, err)
		}
	}
	for _, key := range []string{"page:/", "page:/p/1", "page:/p/2", "page:/c/12", "page:/blog"} {
		if _, err := store.Get(context.Background(), key); err != nil {
			t.Fatalf("unauthorized requests must invalidate nothing, %s: %v", key, err)
		}
	}
}

func TestInvalidate_EmptySecretRejectsEverything(t *testing.T) {
	svc := NewService(seededStore(t), NewRegistry([]string{"home"}), Options{Enabled: true}, zap.NewNop(), nil)
	if _, err := svc.Invalidate(context.Background(), "home", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestInvalidate_MissingTag(t *testing.T) {
	svc := newService(seededStore(t), zap.NewNop())
	if _, err := svc.Invalidate(context.Background(), " ", secret); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestInvalidate_Wildcard(t *testing.T) {
	store := seededStore(t)
	svc := newService(store, zap.NewNop())

	res, err := svc.Invalidate(context.Background(), "*", secret)
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	// home 1, product 2, category 1; "P" as a literal tag matches nothing.
	if res.Total != 4 {
		t.Fatalf("expected 4 removed, got %d (%v)", res.Total, res.Invalidated)
	}
	if res.Invalidated["P"] != 0 || res.Invalidated["product"] != 2 {
		t.Fatalf("unexpected per-tag counts %v", res.Invalidated)
	}
	if _, err := store.Get(context.Background(), "page:/blog"); err != nil {
		t.Fatalf("unregistered blog page must survive: %v", err)
	}
}

func TestInvalidate_MixedLegalAndIllegal(t *testing.T) {
	store := seededStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := newService(store, zap.New(core))

	res, err := svc.Invalidate(context.Background(), "P1,blog", secret)
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if res.Total != 1 || res.Invalidated["P1"] != 1 {
		t.Fatalf("expected only P1 invalidated, got %v", res.Invalidated)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "blog" {
		t.Fatalf("expected blog skipped, got %v", res.Skipped)
	}
	if logs.FilterMessage("Skipping cache invalidation").FilterField(zap.String("tag", "blog")).Len() != 1 {
		t.Fatal("expected a warning for the skipped tag")
	}
	if _, err := store.Get(context.Background(), "page:/p/2"); err != nil {
		t.Fatalf("P2 page must survive: %v", err)
	}
	if _, err := store.Get(context.Background(), "page:/blog"); err != nil {
		t.Fatalf("blog page must survive: %v", err)
	}
}

type flakyStore struct {
	*cache.MemoryStore
	failTag string
}

func (s flakyStore) Invalidate(ctx context.Context, tag string) (int, error) {
	if tag == s.failTag {
		return 0, cache.ErrStoreUnavailable
	}
	return s.MemoryStore.Invalidate(ctx, tag)
}

func TestInvalidate_AggregatesFailures(t *testing.T) {
	store := flakyStore{MemoryStore: seededStore(t), failTag: "product"}
	svc := newService(store, zap.NewNop())

	res, err := svc.Invalidate(context.Background(), "home,product", secret)
	if !errors.Is(err, cache.ErrStoreUnavailable) {
		t.Fatalf("expected aggregated store error, got %v", err)
	}
	if res.Invalidated["home"] != 1 {
		t.Fatalf("healthy tag must still be invalidated, got %v", res.Invalidated)
	}
}
