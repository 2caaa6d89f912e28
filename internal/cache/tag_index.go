package cache

import (
	"hash/fnv"
	"sync"
)

func shardIndex(s string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}

type tagShard struct {
	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

// tagIndex maps a tag to the keys stored with it, sharded by tag so that
// invalidations of unrelated tags do not contend. Stores take their key lock
// before calling add or remove.
type tagIndex struct {
	shards []*tagShard
}

func newTagIndex(shards int) *tagIndex {
	x := &tagIndex{shards: make([]*tagShard, shards)}
	for i := range x.shards {
		x.shards[i] = &tagShard{keys: make(map[string]map[string]struct{})}
	}
	return x
}

func (x *tagIndex) shard(tag string) *tagShard {
	return x.shards[shardIndex(tag, len(x.shards))]
}

func (x *tagIndex) add(tag, key string) {
	ts := x.shard(tag)
	ts.mu.Lock()
	set, ok := ts.keys[tag]
	if !ok {
		set = make(map[string]struct{})
		ts.keys[tag] = set
	}
	set[key] = struct{}{}
	ts.mu.Unlock()
}

func (x *tagIndex) remove(tag, key string) {
	ts := x.shard(tag)
	ts.mu.Lock()
	if set, ok := ts.keys[tag]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(ts.keys, tag)
		}
	}
	ts.mu.Unlock()
}

// take detaches and returns the keys indexed under tag.
func (x *tagIndex) take(tag string) map[string]struct{} {
	ts := x.shard(tag)
	ts.mu.Lock()
	keys := ts.keys[tag]
	delete(ts.keys, tag)
	ts.mu.Unlock()
	return keys
}
