package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowBackend tracks a fixed-window rolling counter keyed by an opaque
// string (scope_key + field + window size, combined by the caller). Every
// scope/field pair must use the same backend/algorithm (spec §4.2).
type WindowBackend interface {
	// Consume attempts to add amount to the counter for key within window,
	// reporting whether the result stays at or below limit. If it would
	// exceed limit, ok is false and retryAfter is how long until the
	// current window resets.
	Consume(ctx context.Context, key string, amount, limit int64, window time.Duration) (ok bool, retryAfter time.Duration, err error)
	// Adjust applies a signed delta to the counter for key without limit
	// checking (used by finalize_tokens to reconcile estimate vs actual).
	Adjust(ctx context.Context, key string, delta int64, window time.Duration) error
	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}

type bucket struct {
	count     int64
	expiresAt time.Time
}

// MemoryWindowBackend is an in-process fixed-window counter. It is the
// default backend; an optional Redis-backed backend (see redis.go) gives the
// same counters persistence across process restarts on the same host.
type MemoryWindowBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryWindowBackend creates an empty in-memory backend.
func NewMemoryWindowBackend() *MemoryWindowBackend {
	return &MemoryWindowBackend{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (b *MemoryWindowBackend) bucketFor(key string, window time.Duration) *bucket {
	now := b.now()
	bk, ok := b.buckets[key]
	if !ok || now.After(bk.expiresAt) {
		bk = &bucket{count: 0, expiresAt: now.Add(window)}
		b.buckets[key] = bk
	}
	return bk
}

func (b *MemoryWindowBackend) Consume(_ context.Context, key string, amount, limit int64, window time.Duration) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk := b.bucketFor(key, window)
	if bk.count+amount > limit {
		return false, time.Until(bk.expiresAt), nil
	}
	bk.count += amount
	return true, 0, nil
}

func (b *MemoryWindowBackend) Adjust(_ context.Context, key string, delta int64, window time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk := b.bucketFor(key, window)
	bk.count += delta
	if bk.count < 0 {
		bk.count = 0
	}
	return nil
}

func (b *MemoryWindowBackend) Reset(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, key)
	return nil
}
