package gateway

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"codepulse/internal/domain/session"
)

const dedupShards = 16

// dedupTable is a short-lived seen-set over (user, file, seq) identities.
// Sharded by key hash so concurrent transport handlers for different users
// rarely contend on the same mutex.
type dedupTable struct {
	window time.Duration
	shards [dedupShards]*dedupShard
}

type dedupShard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func newDedupTable(window time.Duration) *dedupTable {
	t := &dedupTable{window: window}
	for i := range t.shards {
		t.shards[i] = &dedupShard{
			seen:      make(map[string]time.Time),
			lastSweep: time.Now(),
		}
	}
	return t
}

// seen records the identity and reports whether it was already present
// inside the window. Check and insert are one critical section, so the same
// retransmission racing in on both transports still collapses to one accept.
func (t *dedupTable) seen(key session.Key, seq int64) bool {
	id := fmt.Sprintf("%s|%s|%d", key.UserID, key.FilePath, seq)
	shard := t.shards[t.shardFor(key)]

	now := time.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Amortized expiry: sweep a shard at most once per window
	if now.Sub(shard.lastSweep) > t.window {
		for k, at := range shard.seen {
			if now.Sub(at) > t.window {
				delete(shard.seen, k)
			}
		}
		shard.lastSweep = now
	}

	if at, ok := shard.seen[id]; ok && now.Sub(at) <= t.window {
		return true
	}

	shard.seen[id] = now
	return false
}

// forget drops a recorded identity so a later retransmission is accepted
// again. Used when the sink rejects an event after its identity was recorded.
func (t *dedupTable) forget(key session.Key, seq int64) {
	id := fmt.Sprintf("%s|%s|%d", key.UserID, key.FilePath, seq)
	shard := t.shards[t.shardFor(key)]

	shard.mu.Lock()
	delete(shard.seen, id)
	shard.mu.Unlock()
}

func (t *dedupTable) shardFor(key session.Key) int {
	h := fnv.New32a()
	h.Write([]byte(key.UserID))
	h.Write([]byte{0})
	h.Write([]byte(key.FilePath))
	return int(h.Sum32() % dedupShards)
}
