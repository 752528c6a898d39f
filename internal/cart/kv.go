package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KV is the persistence boundary for carts: a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryKV keeps values in process memory. Suitable for tests and single
// instance deployments without redis. With a TTL set, entries expire like
// their redis counterparts: reads refresh the expiry and Sweep drops stale
// entries so abandoned sessions do not accumulate.
type MemoryKV struct {
	TTL time.Duration

	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryKV returns an empty in-memory store without expiry.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memoryEntry)}
}

// Get returns the stored value for key, refreshing its expiry.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	now := m.clock()
	if m.expired(e, now) {
		delete(m.data, key)
		return "", false, nil
	}
	e.expires = m.deadline(now)
	m.data[key] = e
	return e.value, true, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]memoryEntry)
	}
	m.data[key] = memoryEntry{value: value, expires: m.deadline(m.clock())}
	return nil
}

// Ping always succeeds.
func (m *MemoryKV) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, expired or not.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryKV) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	dropped := 0
	for key, e := range m.data {
		if m.expired(e, now) {
			delete(m.data, key)
			dropped++
		}
	}
	return dropped
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryKV) RunSweeper(ctx context.Context, interval time.Duration) {
	if m.TTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryKV) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *MemoryKV) deadline(now time.Time) time.Time {
	if m.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(m.TTL)
}

func (m *MemoryKV) expired(e memoryEntry, now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// RedisKV stores values in redis with a sliding expiry.
type RedisKV struct {
	Client *redis.Client
	TTL    time.Duration
}

func (r RedisKV) ttl() time.Duration {
	if r.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return r.TTL
}

// Get returns the stored value for key, refreshing its expiry.
func (r RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	if r.Client == nil {
		return "", false, errors.New("cart: redis client not configured")
	}
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	_ = r.Client.Expire(ctx, key, r.ttl()).Err()
	return v, true, nil
}

// Set stores value under key.
func (r RedisKV) Set(ctx context.Context, key, value string) error {
	if r.Client == nil {
		return errors.New("cart: redis client not configured")
	}
	return r.Client.Set(ctx, key, value, r.ttl()).Err()
}

// Ping checks redis connectivity.
func (r RedisKV) Ping(ctx context.Context) error {
	if r.Client == nil {
		return errors.New("cart: redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
