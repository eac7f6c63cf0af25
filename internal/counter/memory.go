package counter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	memoryShards        = 32
	defaultShardEntries = 5000
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// MemoryStore keeps records in process memory. Counters are not shared between
// instances and are lost on restart.
type MemoryStore struct {
	shards     [memoryShards]*memoryShard
	maxEntries int
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMaxShardEntries sets the shard size above which expired records are pruned
// during writes.
func WithMaxShardEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		maxEntries: defaultShardEntries,
		now:        time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	sh := s.shard(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || entry.expired(now) {
		return Record{}, false, nil
	}
	return entry.record, true, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) (Record, error) {
	sh := s.shard(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	found := ok && !entry.expired(now)
	if !found {
		entry = memoryEntry{}
	}

	next := fn(entry.record, found)
	stored := memoryEntry{record: next}
	if ttl > 0 {
		stored.expiresAt = now.Add(ttl)
	}
	sh.entries[key] = stored

	if len(sh.entries) > s.maxEntries {
		sh.prune(now)
	}

	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)

	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()

	return nil
}

// DeleteExpired drops expired records. batchSize <= 0 means no limit.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time, batchSize int) (int64, error) {
	var deleted int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if batchSize > 0 && deleted >= int64(batchSize) {
				break
			}
			if entry.expired(now) {
				delete(sh.entries, key)
				deleted++
			}
		}
		sh.mu.Unlock()
	}
	return deleted, nil
}

// Len reports the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func (sh *memoryShard) prune(now time.Time) {
	for key, entry := range sh.entries {
		if entry.expired(now) {
			delete(sh.entries, key)
		}
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
