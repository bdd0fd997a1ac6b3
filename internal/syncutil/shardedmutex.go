// Package syncutil holds small concurrency helpers shared across the
// delivery paths.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex serializes work per string key over a fixed pool of
// mutexes. Memory stays bounded no matter how many keys show up; two
// keys hashing to the same shard occasionally wait on each other,
// which is acceptable for the webhook delivery paths it guards.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard owning key and returns its unlock function.
//
//	defer locks.Lock(sub.ID)()
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
