package adapter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(id, owner string, createdAt time.Time) domain.Manifest {
	return domain.Manifest{
		FileID:     id,
		Filename:   id + ".mp4",
		TotalSize:  10,
		ChunkCount: 3,
		ChunkSize:  4,
		Chunks: []domain.ChunkRef{
			{Index: 0, RemoteID: id + "/00000000", Size: 4, Checksum: "c0"},
			{Index: 1, RemoteID: id + "/00000001", Size: 4, Checksum: "c1"},
			{Index: 2, RemoteID: id + "/00000002", Size: 2, Checksum: "c2"},
		},
		CreatedAt:   createdAt.UTC(),
		Owner:       owner,
		Compression: "none",
		Backend:     "memory",
	}
}

// runManifestStoreContract exercises the behaviour every ManifestStore must share.
func runManifestStoreContract(t *testing.T, store ManifestStore) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		want := testManifest("file-a", "alice", base)
		require.NoError(t, store.Create(ctx, want))

		got, err := store.Get(ctx, "file-a")
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		err := store.Create(ctx, testManifest("file-a", "bob", base.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrDuplicateID)

		got, err := store.Get(ctx, "file-a")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Owner)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid manifest rejected", func(t *testing.T) {
		bad := testManifest("file-bad", "alice", base)
		bad.TotalSize = 99
		assert.ErrorIs(t, store.Create(ctx, bad), domain.ErrInvalidManifest)
		_, err := store.Get(ctx, "file-bad")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, testManifest("file-b", "carol", base.Add(1*time.Minute))))
		require.NoError(t, store.Create(ctx, testManifest("file-c", "carol", base.Add(3*time.Minute))))
		require.NoError(t, store.Create(ctx, testManifest("file-d", "carol", base.Add(2*time.Minute))))
		require.NoError(t, store.Create(ctx, testManifest("file-e", "dave", base.Add(4*time.Minute))))

		got, err := store.ListByOwner(ctx, "carol")
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, m := range got {
			ids[i] = m.FileID
			assert.Len(t, m.Chunks, 3)
		}
		assert.Equal(t, []string{"file-c", "file-d", "file-b"}, ids)

		none, err := store.ListByOwner(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("concurrent creates of one id", func(t *testing.T) {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.Create(ctx, testManifest("file-race", fmt.Sprintf("owner-%d", i), base))
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrDuplicateID)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
	})
}
