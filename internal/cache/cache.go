// Package cache is a small read cache for list projections. Entries live
// for a short TTL; writers invalidate everything keyed by the affected
// subject id before returning, so a reader sees its own write either
// immediately after an invalidation or within one TTL window.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store is the cache contract the services program against.
type Store interface {
	// Get copies the cached payload for key, or returns false.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores payload under key for the store's TTL.
	Set(ctx context.Context, key string, payload []byte)
	// InvalidateByPrefix drops every entry whose key starts with prefix.
	InvalidateByPrefix(ctx context.Context, prefix string) error
}

// minTTL floors the bucketing window; buckets are millisecond-grained,
// so anything shorter would divide by zero.
const minTTL = time.Millisecond

// Key builds the conventional `<kind>:<subject>:<bucket>` cache key. The
// bucket is the current time divided by the TTL, so unrelated readers in
// the same window share an entry and stale buckets age out on their own.
func Key(kind, subject string, ttl time.Duration, now time.Time) string {
	if ttl < minTTL {
		ttl = minTTL
	}
	bucket := now.UnixMilli() / ttl.Milliseconds()
	return kind + ":" + subject + ":" + strconv.FormatInt(bucket, 10)
}

// Prefix is the invalidation prefix covering every bucket of a subject.
func Prefix(kind, subject string) string {
	return kind + ":" + subject + ":"
}

// Memory is the in-process implementation. It backs tests and redis-less
// deployments.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

func (m *Memory) Set(_ context.Context, key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.entries[key] = memoryEntry{payload: stored, expiresAt: m.now().Add(m.ttl)}
}

func (m *Memory) InvalidateByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}
