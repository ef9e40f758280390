package adapter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteManifestStoreContract(t *testing.T) {
	store, err := OpenSQLiteManifestStore(filepath.Join(t.TempDir(), "manifests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runManifestStoreContract(t, store)
}

func TestSQLiteManifestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifests.db")

	store, err := OpenSQLiteManifestStore(path)
	require.NoError(t, err)
	want := testManifest("persisted", "alice", time.Now())
	require.NoError(t, store.Create(ctx, want))
	require.NoError(t, store.Close())

	store, err = OpenSQLiteManifestStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.Chunks, got.Chunks)
}

func TestOpenSQLiteManifestStoreRequiresPath(t *testing.T) {
	_, err := OpenSQLiteManifestStore("")
	assert.Error(t, err)
}
