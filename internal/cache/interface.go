// Package cache stores rendered pages indexed by content tags.
//
// A Store keeps one Entry per page key. Every entry carries the set of tags
// it was written with, and the store maintains a tag to key index so that
// Invalidate only visits the entries that carry the tag.
package cache

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrStoreUnavailable wraps backend failures (network, closed store).
	ErrStoreUnavailable = errors.New("cache: store unavailable")
)

// Entry is a cached page.
type Entry struct {
	Key       string
	Body      string
	Tags      []string
	ExpiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (e *Entry) hasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Store is the tag-indexed page store. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the entry for key or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set replaces the entry for key. The tag set of the previous entry, if
	// any, is dropped from the index.
	Set(ctx context.Context, key, body string, tags []string, ttl time.Duration) error

	// Invalidate removes every entry carrying tag and returns how many were removed.
	Invalidate(ctx context.Context, tag string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// PageKey derives the store key for a request URI.
func PageKey(requestURI string) string {
	return "page:" + requestURI
}

// normalizeTags deduplicates and sorts tags, dropping empty ones.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
