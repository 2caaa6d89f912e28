package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entries live in a hash at <prefix>entry:<key> with "body" and "tags"
// (space separated) fields. Each tag owns a set at <prefix>tag:<tag> holding
// the keys written with it. Both scripts touch keys not passed in KEYS, so
// the store requires a single Redis node rather than a cluster.

var setEntryScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'tags')
if old then
  for t in string.gmatch(old, '%S+') do
    redis.call('SREM', ARGV[1] .. 'tag:' .. t, ARGV[2])
  end
end
local ttl = tonumber(ARGV[4])
local tags = {}
for i = 5, #ARGV do tags[#tags + 1] = ARGV[i] end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'body', ARGV[3], 'tags', table.concat(tags, ' '))
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
for _, t in ipairs(tags) do
  local tk = ARGV[1] .. 'tag:' .. t
  redis.call('SADD', tk, ARGV[2])
  if ttl > 0 then
    local cur = redis.call('PTTL', tk)
    if cur < ttl then redis.call('PEXPIRE', tk, ttl) end
  end
end
return 1
`)

var invalidateTagScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, m in ipairs(members) do
  local ek = ARGV[1] .. 'entry:' .. m
  local tags = redis.call('HGET', ek, 'tags')
  if tags then
    local has = false
    for t in string.gmatch(tags, '%S+') do
      if t == ARGV[2] then has = true end
    end
    if has then
      for t in string.gmatch(tags, '%S+') do
        if t ~= ARGV[2] then redis.call('SREM', ARGV[1] .. 'tag:' .. t, m) end
      end
      removed = removed + redis.call('DEL', ek)
    end
  end
end
redis.call('DEL', KEYS[1])
return removed
`)

// RedisStore implements Store on a shared Redis instance so that every
// frontend process serves and invalidates the same pages.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig holds connection settings for the Redis store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "pagefront:"
}

func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg.KeyPrefix)
}

// NewRedisStoreFromClient creates a store using an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pagefront:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + "entry:" + key
}

func (s *RedisStore) tagKey(tag string) string {
	return s.prefix + "tag:" + tag
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	ek := s.entryKey(key)
	var (
		fields *redis.StringStringMapCmd
		ttl    *redis.DurationCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, ek)
		ttl = pipe.PTTL(ctx, ek)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	values := fields.Val()
	body, ok := values["body"]
	if !ok {
		return nil, ErrNotFound
	}
	e := &Entry{
		Key:  key,
		Body: body,
		Tags: strings.Fields(values["tags"]),
	}
	if d := ttl.Val(); d > 0 {
		e.ExpiresAt = time.Now().Add(d)
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, key, body string, tags []string, ttl time.Duration) error {
	tags = normalizeTags(tags)
	args := make([]interface{}, 0, 4+len(tags))
	args = append(args, s.prefix, key, body, ttl.Milliseconds())
	for _, t := range tags {
		args = append(args, t)
	}
	if err := setEntryScript.Run(ctx, s.client, []string{s.entryKey(key)}, args...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, tag string) (int, error) {
	n, err := invalidateTagScript.Run(ctx, s.client, []string{s.tagKey(tag)}, s.prefix, tag).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
