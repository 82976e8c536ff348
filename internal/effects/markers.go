package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	markerClaimed = "claimed"
	markerDone    = "done"
)

// Markers claims per-effect keys so a dispatcher runs at most once per key,
// whichever trigger path reaches it. A claim and a completion are distinct
// states: only a completed key means the effect happened.
type Markers interface {
	// Claim returns true when the caller now owns key.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Complete records that the effect under key finished.
	Complete(ctx context.Context, key string, ttl time.Duration) error
	// Completed reports whether key was completed.
	Completed(ctx context.Context, key string) (bool, error)
	// Release drops a claim so a failed effect can be retried later.
	Release(ctx context.Context, key string) error
}

// RedisMarkers keeps markers in Redis. Claims use SET NX with a short TTL;
// completion overwrites the value and extends it.
type RedisMarkers struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisMarkers(rdb *redis.Client) *RedisMarkers {
	return &RedisMarkers{rdb: rdb, prefix: "fx:"}
}

func (m *RedisMarkers) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.prefix+key, markerClaimed, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim marker %s: %w", key, err)
	}
	return ok, nil
}

func (m *RedisMarkers) Complete(ctx context.Context, key string, ttl time.Duration) error {
	if err := m.rdb.Set(ctx, m.prefix+key, markerDone, ttl).Err(); err != nil {
		return fmt.Errorf("complete marker %s: %w", key, err)
	}
	return nil
}

func (m *RedisMarkers) Completed(ctx context.Context, key string) (bool, error) {
	v, err := m.rdb.Get(ctx, m.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker %s: %w", key, err)
	}
	return v == markerDone, nil
}

func (m *RedisMarkers) Release(ctx context.Context, key string) error {
	if err := m.rdb.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("release marker %s: %w", key, err)
	}
	return nil
}

type memoryMarker struct {
	expires time.Time
	done    bool
}

// MemoryMarkers is a process-local Markers for single-instance runs and tests.
type MemoryMarkers struct {
	mu      sync.Mutex
	markers map[string]memoryMarker
	now     func() time.Time
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string]memoryMarker), now: time.Now}
}

func (m *MemoryMarkers) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.markers[key] = memoryMarker{expires: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryMarkers) Complete(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[key] = memoryMarker{expires: m.expiry(ttl), done: true}
	return nil
}

func (m *MemoryMarkers) Completed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.live(key)
	return ok && mk.done, nil
}

func (m *MemoryMarkers) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, key)
	return nil
}

func (m *MemoryMarkers) live(key string) (memoryMarker, bool) {
	mk, ok := m.markers[key]
	if !ok || (!mk.expires.IsZero() && !m.now().Before(mk.expires)) {
		return memoryMarker{}, false
	}
	return mk, true
}

func (m *MemoryMarkers) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
