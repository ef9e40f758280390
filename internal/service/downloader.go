package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/chunk"
	"github.com/jonno85/videovault-chunkstore/internal/compress"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/metrics"
)

// Downloader rebuilds files from their manifests.
type Downloader struct {
	blobs     adapter.BlobStore
	manifests adapter.ManifestStore
}

func NewDownloader(blobs adapter.BlobStore, manifests adapter.ManifestStore) *Downloader {
	return &Downloader{blobs: blobs, manifests: manifests}
}

// Manifest returns the stored manifest of fileID.
func (d *Downloader) Manifest(ctx context.Context, fileID string) (domain.Manifest, error) {
	if fileID == "" {
		return domain.Manifest{}, fmt.Errorf("%w: empty file id", domain.ErrInvalidInput)
	}
	return d.manifests.Get(ctx, fileID)
}

// ListByOwner returns the owner's manifests, newest first.
func (d *Downloader) ListByOwner(ctx context.Context, owner string) ([]domain.Manifest, error) {
	return d.manifests.ListByOwner(ctx, owner)
}

// Download returns a stream of the original bytes of fileID.
// Chunks are fetched one at a time as the stream is consumed; a chunk that
// cannot be fetched or fails verification surfaces as *domain.ChunkUnavailableError.
func (d *Downloader) Download(ctx context.Context, fileID string) (io.ReadCloser, domain.Manifest, error) {
	m, err := d.Manifest(ctx, fileID)
	if err != nil {
		return nil, domain.Manifest{}, err
	}
	codec, err := compress.ForName(m.Compression)
	if err != nil {
		return nil, domain.Manifest{}, fmt.Errorf("%w: %v", domain.ErrInvalidManifest, err)
	}
	slog.Info("Starting download", "fileID", m.FileID, "chunks", m.ChunkCount, "bytes", m.TotalSize)
	return chunk.NewReader(ctx, len(m.Chunks), d.fetcher(m, codec)), m, nil
}

// DownloadTo writes the file to w and returns the number of bytes written.
func (d *Downloader) DownloadTo(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	rc, m, err := d.Download(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(w, rc)
	if err != nil {
		return n, err
	}
	if n != m.TotalSize {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", domain.ErrInvalidManifest, n, m.TotalSize)
	}
	slog.Info("Download complete", "fileID", m.FileID, "bytes", n)
	return n, nil
}

func (d *Downloader) fetcher(m domain.Manifest, codec compress.Codec) chunk.FetchFunc {
	backend := d.blobs.Backend()
	return func(ctx context.Context, i int) ([]byte, error) {
		ref := m.Chunks[i]
		fail := func(err error) ([]byte, error) {
			metrics.ChunksUnavailable.WithLabelValues(backend).Inc()
			slog.Error("Chunk unavailable", "fileID", m.FileID, "index", ref.Index, "remoteID", ref.RemoteID, "err", err)
			return nil, &domain.ChunkUnavailableError{Index: ref.Index, RemoteID: ref.RemoteID, Err: err}
		}

		payload, err := d.blobs.Fetch(ctx, ref.RemoteID)
		if err != nil {
			return fail(err)
		}
		data, err := codec.Decompress(payload)
		if err != nil {
			return fail(fmt.Errorf("decompress: %w", err))
		}
		if int64(len(data)) != ref.Size {
			return fail(fmt.Errorf("size %d, expected %d", len(data), ref.Size))
		}
		if ref.Checksum != "" && chunk.Hash(data) != ref.Checksum {
			return fail(errors.New("checksum mismatch"))
		}
		metrics.ChunksDownloaded.WithLabelValues(backend).Inc()
		metrics.BytesDownloaded.WithLabelValues(backend).Add(float64(len(data)))
		return data, nil
	}
}
