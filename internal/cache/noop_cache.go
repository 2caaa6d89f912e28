package cache

import (
	"context"
	"time"
)

// NoopStore is used when caching is disabled: every lookup misses.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) Get(context.Context, string) (*Entry, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Set(context.Context, string, string, []string, time.Duration) error {
	return nil
}

func (s *NoopStore) Invalidate(context.Context, string) (int, error) {
	return 0, nil
}

func (s *NoopStore) Ping(context.Context) error { return nil }

func (s *NoopStore) Close() error { return nil }
