package rights

import (
	"hash/fnv"
	"sync"
)

const lockShards = 128

// keyedMutex serializes processing per key with a fixed pool of shard locks.
// Two requests for the same subject always hash to the same shard; unrelated
// keys rarely contend.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (m *keyedMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
