package adapter

import (
	"context"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// BlobStore holds the bytes of individual chunks under opaque remote ids.
type BlobStore interface {
	// Store saves data and returns its remote id. name is a hint used for object keys or captions.
	Store(ctx context.Context, name string, data []byte) (string, error)
	// Fetch returns the bytes stored under remoteID. A missing object yields domain.ErrNotFound.
	Fetch(ctx context.Context, remoteID string) ([]byte, error)
	// Delete removes remoteID. Callers treat failures as best effort.
	Delete(ctx context.Context, remoteID string) error
	// Backend names the implementation, recorded in manifests.
	Backend() string
}

// ManifestStore persists manifests. Create is atomic: a manifest is never visible half written.
type ManifestStore interface {
	Create(ctx context.Context, m domain.Manifest) error
	Get(ctx context.Context, fileID string) (domain.Manifest, error)
	// ListByOwner returns the owner's manifests, newest first.
	ListByOwner(ctx context.Context, owner string) ([]domain.Manifest, error)
	Close() error
}
