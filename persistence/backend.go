// Package persistence snapshots the in-memory stores into a key-value
// backend.
//
// Each store exports its entries as a bucket of JSON documents keyed by
// UUID. A Snapshotter flushes the buckets of every registered store,
// writing changed documents and deleting documents whose entries are gone,
// so the backend converges on the live state after every flush.
//
// Three backends are provided: MemoryBackend for tests and dry runs,
// BadgerBackend for an on-disk store local to an agent, and RedisBackend
// for a store shared with an orchestrator.
package persistence

import (
	"context"
	"sync"
)

// Backend stores opaque values grouped in buckets.
type Backend interface {
	// Put stores value under key in bucket, replacing any previous value.
	Put(ctx context.Context, bucket, key string, value []byte) error

	// Delete removes key from bucket. Deleting an absent key is a no-op.
	Delete(ctx context.Context, bucket, key string) error

	// List returns every key and value in bucket. An unknown bucket is empty.
	List(ctx context.Context, bucket string) (map[string][]byte, error)

	// Close releases the backend's resources.
	Close() error
}

// Exporter is implemented by model.Store and relation.Store.
type Exporter interface {
	Export() (map[string][]byte, error)
}

// MemoryBackend keeps buckets in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string][]byte)}
}

// Put stores a copy of value.
func (m *MemoryBackend) Put(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}
	b[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key from bucket.
func (m *MemoryBackend) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[bucket], key)
	return nil
}

// List returns copies of the values in bucket.
func (m *MemoryBackend) List(_ context.Context, bucket string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.buckets[bucket]))
	for k, v := range m.buckets[bucket] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// Ping always succeeds.
func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}
