package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const evictInterval = 30 * time.Second

// keyShard is an LRU of entries. The front of lru is the most recently used.
type keyShard struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
}

// MemoryStore is an in-process Store. Entries and the tag index are split
// into shards so that operations on unrelated keys or tags do not contend.
// Locks are always taken key shard first, then tag shard.
type MemoryStore struct {
	keyShards []*keyShard
	tags      *tagIndex
	closed    atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStore creates a sharded in-memory store with periodic eviction of
// expired entries. With maxEntries > 0 each shard holds at most its share of
// maxEntries and drops its least recently used entry when full.
func NewMemoryStore(shards, maxEntries int) *MemoryStore {
	if shards <= 0 {
		shards = 32
	}
	perShard := 0
	if maxEntries > 0 {
		perShard = (maxEntries + shards - 1) / shards
	}
	s := &MemoryStore{
		keyShards: make([]*keyShard, shards),
		tags:      newTagIndex(shards),
		stop:      make(chan struct{}),
	}
	for i := 0; i < shards; i++ {
		s.keyShards[i] = &keyShard{
			maxSize: perShard,
			items:   make(map[string]*list.Element),
			lru:     list.New(),
		}
	}
	go s.evictLoop()
	return s
}

func (s *MemoryStore) keyShard(key string) *keyShard {
	return s.keyShards[shardIndex(key, len(s.keyShards))]
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	ks := s.keyShard(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	elem, ok := ks.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := elem.Value.(*Entry)
	if e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	ks.lru.MoveToFront(elem)

	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	return &cp, nil
}

func (s *MemoryStore) Set(_ context.Context, key, body string, tags []string, ttl time.Duration) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	e := &Entry{Key: key, Body: body, Tags: normalizeTags(tags)}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}

	ks := s.keyShard(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if elem, ok := ks.items[key]; ok {
		for _, t := range elem.Value.(*Entry).Tags {
			if !e.hasTag(t) {
				s.tags.remove(t, key)
			}
		}
		elem.Value = e
		ks.lru.MoveToFront(elem)
	} else {
		if ks.maxSize > 0 && ks.lru.Len() >= ks.maxSize {
			if oldest := ks.lru.Back(); oldest != nil {
				s.removeElement(ks, oldest)
			}
		}
		ks.items[key] = ks.lru.PushFront(e)
	}
	for _, t := range e.Tags {
		s.tags.add(t, key)
	}
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, tag string) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}

	removed := 0
	for key := range s.tags.take(tag) {
		ks := s.keyShard(key)
		ks.mu.Lock()
		// The entry may have been rewritten without this tag since it was indexed.
		if elem, ok := ks.items[key]; ok && elem.Value.(*Entry).hasTag(tag) {
			s.removeElement(ks, elem)
			removed++
		}
		ks.mu.Unlock()
	}
	return removed, nil
}

// removeElement drops an entry and its tag index records. Callers hold ks.mu.
func (s *MemoryStore) removeElement(ks *keyShard, elem *list.Element) {
	e := elem.Value.(*Entry)
	ks.lru.Remove(elem)
	delete(ks.items, e.Key)
	for _, t := range e.Tags {
		s.tags.remove(t, e.Key)
	}
}

// count returns the number of stored entries, expired ones included until evicted.
func (s *MemoryStore) count() int {
	n := 0
	for _, ks := range s.keyShards {
		ks.mu.Lock()
		n += ks.lru.Len()
		ks.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) Ping(_ context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	return nil
}

func (s *MemoryStore) evictExpired(now time.Time) int {
	evicted := 0
	for _, ks := range s.keyShards {
		ks.mu.Lock()
		for elem := ks.lru.Back(); elem != nil; {
			prev := elem.Prev()
			if elem.Value.(*Entry).expired(now) {
				s.removeElement(ks, elem)
				evicted++
			}
			elem = prev
		}
		ks.mu.Unlock()
	}
	return evicted
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.evictExpired(now)
		}
	}
}
