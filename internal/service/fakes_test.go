package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// memoryBlobStore keeps chunks in a map. failOn makes the n-th Store call fail (1-based).
type memoryBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	calls   int
	failOn  int
	onStore func(call int)
	deleted []string
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *memoryBlobStore) Backend() string { return "memory" }

func (m *memoryBlobStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls++
	call := m.calls
	hook := m.onStore
	if m.failOn > 0 && call == m.failOn {
		m.mu.Unlock()
		return "", errors.New("upstream rejected chunk")
	}
	id := "mem-" + name
	m.blobs[id] = append([]byte(nil), data...)
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return id, nil
}

func (m *memoryBlobStore) Fetch(_ context.Context, remoteID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[remoteID]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", remoteID, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBlobStore) Delete(_ context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, remoteID)
	delete(m.blobs, remoteID)
	return nil
}

func (m *memoryBlobStore) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

func newTestManifestStore(t *testing.T) adapter.ManifestStore {
	t.Helper()
	store, err := adapter.OpenSQLiteManifestStore(filepath.Join(t.TempDir(), "manifests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRedis(t *testing.T) (*adapter.RedisClientImpl, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := adapter.NewRedisClientFromClient(rdb)
	t.Cleanup(func() { _ = client.Close() })
	return client, rdb, mr
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/7)
	}
	return b
}
