package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const fileExt = ".json"

// fileMeta is what the index remembers about an entry on disk.
type fileMeta struct {
	tags      []string
	expiresAt time.Time
}

func (m fileMeta) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && !now.Before(m.expiresAt)
}

func (m fileMeta) hasTag(tag string) bool {
	for _, t := range m.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// fileShard serializes disk access for the keys hashed to it.
type fileShard struct {
	mu   sync.Mutex
	meta map[string]fileMeta
}

// FileStore keeps pages on disk so they survive a restart. The index lives
// in memory and is rebuilt from the files when the store is opened. Like
// MemoryStore it is sharded by key and by tag, locking key shard first.
// Structure: {dir}/{hash[:2]}/{hash}.json, hash being the sha256 of the key.
type FileStore struct {
	dir    string
	shards []*fileShard
	tags   *tagIndex
	closed atomic.Bool
}

type fileEntry struct {
	Key       string    `json:"key"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewFileStore(dir string, shards int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if shards <= 0 {
		shards = 32
	}

	s := &FileStore{
		dir:    dir,
		shards: make([]*fileShard, shards),
		tags:   newTagIndex(shards),
	}
	for i := range s.shards {
		s.shards[i] = &fileShard{meta: make(map[string]fileMeta)}
	}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// reindex walks the cache directory, dropping expired or unreadable files.
func (s *FileStore) reindex() error {
	now := time.Now()
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) {
			return nil
		}
		e, err := readFileEntry(path)
		if err != nil || e.expired(now) {
			os.Remove(path)
			return nil
		}
		s.index(s.shard(e.Key), e.Key, fileMeta{tags: e.Tags, expiresAt: e.ExpiresAt})
		return nil
	})
}

func (s *FileStore) shard(key string) *fileShard {
	return s.shards[shardIndex(key, len(s.shards))]
}

func (s *FileStore) buildFilePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name[:2], name+fileExt)
}

func readFileEntry(path string) (*fileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e fileEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", path, err)
	}
	return &e, nil
}

func (e *fileEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// index records meta for key, replacing its previous tags. Callers hold sh.mu.
func (s *FileStore) index(sh *fileShard, key string, meta fileMeta) {
	s.unindex(sh, key)
	sh.meta[key] = meta
	for _, t := range meta.tags {
		s.tags.add(t, key)
	}
}

// unindex forgets key and its tags. Callers hold sh.mu.
func (s *FileStore) unindex(sh *fileShard, key string) {
	old, ok := sh.meta[key]
	if !ok {
		return
	}
	for _, t := range old.tags {
		s.tags.remove(t, key)
	}
	delete(sh.meta, key)
}

func (s *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: file store closed", ErrStoreUnavailable)
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	path := s.buildFilePath(key)
	e, err := readFileEntry(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if e.Key != key {
		return nil, ErrNotFound
	}
	if e.expired(time.Now()) {
		s.unindex(sh, key)
		os.Remove(path)
		return nil, ErrNotFound
	}
	return &Entry{Key: e.Key, Body: e.Body, Tags: e.Tags, ExpiresAt: e.ExpiresAt}, nil
}

func (s *FileStore) Set(_ context.Context, key, body string, tags []string, ttl time.Duration) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: file store closed", ErrStoreUnavailable)
	}
	e := fileEntry{Key: key, Body: body, Tags: normalizeTags(tags)}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	filePath := s.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.index(sh, key, fileMeta{tags: e.Tags, expiresAt: e.ExpiresAt})
	return nil
}

// Invalidate removes the files of every live entry tagged with tag. Expired
// entries still on disk are deleted too but not counted.
func (s *FileStore) Invalidate(_ context.Context, tag string) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: file store closed", ErrStoreUnavailable)
	}

	now := time.Now()
	removed := 0
	var errs []error
	for key := range s.tags.take(tag) {
		sh := s.shard(key)
		sh.mu.Lock()
		meta, ok := sh.meta[key]
		// The entry may have been rewritten without this tag since it was indexed.
		if !ok || !meta.hasTag(tag) {
			sh.mu.Unlock()
			continue
		}
		err := os.Remove(s.buildFilePath(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			// Still on disk: keep it reachable for the next invalidation.
			s.tags.add(tag, key)
			sh.mu.Unlock()
			errs = append(errs, err)
			continue
		}
		s.unindex(sh, key)
		sh.mu.Unlock()
		if !meta.expired(now) {
			removed++
		}
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, errors.Join(errs...))
	}
	return removed, nil
}

func (s *FileStore) Ping(context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: file store closed", ErrStoreUnavailable)
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}
