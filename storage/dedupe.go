package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	requestPending = "pending"
	requestDone    = "done"
)

// RedisDeduper stores seen request ids in Redis so a retried operation is
// applied at most once within the TTL. An id is pending from Add until
// Complete or Remove.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "req:"}
}

// Add records the key as pending if it does not already exist. It returns
// true when the key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, requestPending, r.ttl).Result()
}

// Lookup reports whether the key is recorded and whether its operation
// finished successfully.
func (r *RedisDeduper) Lookup(ctx context.Context, key string) (found, done bool, err error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, v == requestDone, nil
}

// Complete marks a pending key as applied. A key that was removed or expired
// in the meantime is not recreated.
func (r *RedisDeduper) Complete(ctx context.Context, key string) error {
	return r.client.SetXX(ctx, r.prefix+key, requestDone, r.ttl).Err()
}

// Remove deletes a previously recorded key. It is used when the operation is
// rejected so the client may retry a corrected request under the same id.
func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

type memoryEntry struct {
	expires time.Time
	done    bool
}

// MemoryDeduper is the in-process fallback used when Redis is not configured.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	seen    map[string]memoryEntry
	sweepAt time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]memoryEntry)}
}

func (m *MemoryDeduper) Add(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.After(m.sweepAt) {
		for k, e := range m.seen {
			if !now.Before(e.expires) {
				delete(m.seen, k)
			}
		}
		m.sweepAt = now.Add(m.ttl)
	}
	if e, ok := m.seen[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	m.seen[key] = memoryEntry{expires: now.Add(m.ttl)}
	return true, nil
}

func (m *MemoryDeduper) Lookup(_ context.Context, key string) (found, done bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.seen[key]
	if !ok || !m.now().Before(e.expires) {
		return false, false, nil
	}
	return true, e.done, nil
}

func (m *MemoryDeduper) Complete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.seen[key]; ok {
		e.done = true
		e.expires = m.now().Add(m.ttl)
		m.seen[key] = e
	}
	return nil
}

func (m *MemoryDeduper) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}
