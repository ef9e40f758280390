package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/chunk"
	"github.com/jonno85/videovault-chunkstore/internal/compress"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/metrics"
)

const defaultCleanupTimeout = 30 * time.Second

// UploaderConfig tunes the upload orchestrator.
type UploaderConfig struct {
	// DefaultChunkSize is what ChunkSizeOrDefault hands to callers that have no size of their own.
	DefaultChunkSize int64
	// MaxChunkSize bounds request chunk sizes; zero means unbounded.
	MaxChunkSize int64
	// Workers is the number of chunk stores in flight; 1 uploads strictly in order.
	Workers int
	// Compression is applied to every chunk before it is stored.
	Compression compress.Codec
	// CleanupTimeout bounds the best-effort deletion of orphaned chunks.
	CleanupTimeout time.Duration
}

// UploadRequest describes one upload.
type UploadRequest struct {
	Source    Source
	Filename  string
	ChunkSize int64
	Owner     string
	// FileID is generated when empty.
	FileID   string
	Progress ProgressFunc
}

// Progress reports bytes actually stored so far.
type Progress struct {
	FileID     string
	Index      int
	ChunkBytes int64
	BytesDone  int64
	ChunksDone int
}

type ProgressFunc func(Progress)

// uploadSession is the transient state of one Upload call.
type uploadSession struct {
	fileID          string
	source          Source
	targetChunkSize int64
	failed          bool

	mu             sync.Mutex
	chunksUploaded []domain.ChunkRef
	stored         []string
	bytesDone      int64
	chunksDone     int
}

// Uploader splits a source into chunks, stores them and records the manifest.
type Uploader struct {
	blobs     adapter.BlobStore
	manifests adapter.ManifestStore
	cfg       UploaderConfig
	now       func() time.Time
	newID     func() string
}

func NewUploader(blobs adapter.BlobStore, manifests adapter.ManifestStore, cfg UploaderConfig) *Uploader {
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = chunk.DefaultSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Compression == nil {
		cfg.Compression, _ = compress.ForName(compress.None)
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	return &Uploader{
		blobs:     blobs,
		manifests: manifests,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ChunkSizeOrDefault returns size, or the configured default when size is zero.
func (u *Uploader) ChunkSizeOrDefault(size int64) int64 {
	if size == 0 {
		return u.cfg.DefaultChunkSize
	}
	return size
}

// Upload stores every chunk of req.Source and then creates its manifest.
// A failed chunk aborts the upload and the chunks stored so far are deleted;
// a failed manifest write is returned as is and leaves the chunks in place.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (domain.Manifest, error) {
	chunkSize := req.ChunkSize
	if chunkSize <= 0 || (u.cfg.MaxChunkSize > 0 && chunkSize > u.cfg.MaxChunkSize) {
		return domain.Manifest{}, fmt.Errorf("%w: chunk size %d", domain.ErrInvalidInput, chunkSize)
	}
	if req.Source == nil {
		return domain.Manifest{}, fmt.Errorf("%w: no source", domain.ErrInvalidInput)
	}
	fileID := req.FileID
	if fileID == "" {
		fileID = u.newID()
	}

	rc, suggested, err := req.Source.Open(ctx)
	if err != nil {
		return domain.Manifest{}, err
	}
	defer rc.Close()

	filename := req.Filename
	if filename == "" {
		filename = suggested
	}
	filename = SafeFilename(filename)
	if filename == "" {
		return domain.Manifest{}, fmt.Errorf("%w: empty filename", domain.ErrInvalidInput)
	}

	splitter, err := chunk.NewSplitter(rc, int(chunkSize))
	if err != nil {
		return domain.Manifest{}, err
	}

	session := &uploadSession{fileID: fileID, source: req.Source, targetChunkSize: chunkSize}
	start := time.Now()
	slog.Info("Starting upload", "fileID", fileID, "filename", filename, "chunkSize", chunkSize, "workers", u.cfg.Workers)

	if u.cfg.Workers == 1 {
		err = u.storeSequential(ctx, session, splitter, req.Progress)
	} else {
		err = u.storeParallel(ctx, session, splitter, req.Progress)
	}
	if err == nil && len(session.chunksUploaded) == 0 {
		err = fmt.Errorf("%w: empty source", domain.ErrInvalidInput)
	}
	if err != nil {
		session.failed = true
		metrics.UploadsFailed.WithLabelValues(u.blobs.Backend()).Inc()
		u.cleanup(ctx, session)
		return domain.Manifest{}, err
	}

	manifest := domain.Manifest{
		FileID:      fileID,
		Filename:    filename,
		TotalSize:   session.bytesDone,
		ChunkCount:  len(session.chunksUploaded),
		ChunkSize:   session.targetChunkSize,
		Chunks:      session.chunksUploaded,
		CreatedAt:   u.now().UTC(),
		Owner:       req.Owner,
		Compression: u.cfg.Compression.Name(),
		Backend:     u.blobs.Backend(),
		SourceURL:   session.source.Describe(),
	}
	if err := manifest.Validate(); err != nil {
		return domain.Manifest{}, err
	}
	if err := u.manifests.Create(ctx, manifest); err != nil {
		slog.Error("Failed to create manifest", "fileID", fileID, "chunks", manifest.ChunkCount, "err", err)
		return domain.Manifest{}, err
	}

	metrics.UploadsCompleted.WithLabelValues(manifest.Backend).Inc()
	metrics.UploadDuration.WithLabelValues(manifest.Backend).Observe(time.Since(start).Seconds())
	slog.Info("Upload complete", "fileID", fileID, "chunks", manifest.ChunkCount, "bytes", manifest.TotalSize, "duration", time.Since(start).String())
	return manifest, nil
}

func (u *Uploader) storeSequential(ctx context.Context, session *uploadSession, splitter *chunk.Splitter, progress ProgressFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload %s: %w", session.fileID, err)
		}
		c, err := splitter.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w: %w", domain.ErrSourceUnreachable, err)
		}
		ref, err := u.storeChunk(ctx, session, c)
		if err != nil {
			return err
		}
		session.record(ref, progress)
	}
}

// storeParallel keeps at most Workers chunks in flight. Indices still follow source order.
func (u *Uploader) storeParallel(ctx context.Context, session *uploadSession, splitter *chunk.Splitter, progress ProgressFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)
	refs := make(map[int]domain.ChunkRef)
	var mu sync.Mutex
	count := 0

	var readErr error
	for gctx.Err() == nil {
		c, err := splitter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("read source: %w: %w", domain.ErrSourceUnreachable, err)
			break
		}
		count++
		g.Go(func() error {
			ref, err := u.storeChunk(gctx, session, c)
			if err != nil {
				return err
			}
			mu.Lock()
			refs[ref.Index] = ref
			mu.Unlock()
			session.progress(ref, progress)
			return nil
		})
	}
	waitErr := g.Wait()
	switch {
	case waitErr != nil:
		return waitErr
	case readErr != nil:
		return readErr
	case ctx.Err() != nil:
		return fmt.Errorf("upload %s: %w", session.fileID, ctx.Err())
	}

	ordered := make([]domain.ChunkRef, count)
	for i := 0; i < count; i++ {
		ref, ok := refs[i]
		if !ok {
			return fmt.Errorf("%w: chunk %d of %s has no reference", domain.ErrRemoteStore, i, session.fileID)
		}
		ordered[i] = ref
	}
	session.chunksUploaded = ordered
	return nil
}

func (u *Uploader) storeChunk(ctx context.Context, session *uploadSession, c chunk.Chunk) (domain.ChunkRef, error) {
	backend := u.blobs.Backend()
	payload, err := u.cfg.Compression.Compress(c.Data)
	if err != nil {
		return domain.ChunkRef{}, fmt.Errorf("compress chunk %d: %w", c.Index, err)
	}
	remoteID, err := u.blobs.Store(ctx, chunkName(session.fileID, c.Index), payload)
	if err != nil {
		metrics.ChunksUploadedErrors.WithLabelValues(backend).Inc()
		slog.Error("Error storing chunk", "fileID", session.fileID, "index", c.Index, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return domain.ChunkRef{}, fmt.Errorf("store chunk %d of %s: %w", c.Index, session.fileID, err)
		}
		return domain.ChunkRef{}, fmt.Errorf("store chunk %d of %s: %w: %w", c.Index, session.fileID, domain.ErrRemoteStore, err)
	}
	session.markStored(remoteID)
	metrics.ChunksUploaded.WithLabelValues(backend).Inc()
	metrics.BytesUploaded.WithLabelValues(backend).Add(float64(len(c.Data)))
	slog.Debug("Stored chunk", "fileID", session.fileID, "index", c.Index, "remoteID", remoteID, "bytes", len(c.Data), "storedBytes", len(payload))
	return domain.ChunkRef{
		Index:    c.Index,
		RemoteID: remoteID,
		Size:     int64(len(c.Data)),
		Checksum: c.Checksum,
	}, nil
}

// cleanup deletes every chunk stored by a failed attempt. Failures are logged, never returned.
func (u *Uploader) cleanup(ctx context.Context, session *uploadSession) {
	if !session.failed {
		return
	}
	session.mu.Lock()
	stored := append([]string(nil), session.stored...)
	session.mu.Unlock()
	if len(stored) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.CleanupTimeout)
	defer cancel()

	slog.Warn("Upload aborted, deleting stored chunks", "fileID", session.fileID, "chunks", len(stored))
	for _, remoteID := range stored {
		if err := u.blobs.Delete(cleanupCtx, remoteID); err != nil {
			metrics.ChunkCleanupErrors.WithLabelValues(u.blobs.Backend()).Inc()
			slog.Error("Failed to delete orphaned chunk", "fileID", session.fileID, "remoteID", remoteID, "err", err)
		}
	}
}

func (s *uploadSession) markStored(remoteID string) {
	s.mu.Lock()
	s.stored = append(s.stored, remoteID)
	s.mu.Unlock()
}

func (s *uploadSession) record(ref domain.ChunkRef, progress ProgressFunc) {
	s.mu.Lock()
	s.chunksUploaded = append(s.chunksUploaded, ref)
	s.mu.Unlock()
	s.progress(ref, progress)
}

func (s *uploadSession) progress(ref domain.ChunkRef, progress ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesDone += ref.Size
	s.chunksDone++
	if progress != nil {
		progress(Progress{
			FileID:     s.fileID,
			Index:      ref.Index,
			ChunkBytes: ref.Size,
			BytesDone:  s.bytesDone,
			ChunksDone: s.chunksDone,
		})
	}
}

// chunkName builds the object key / caption of a chunk.
func chunkName(fileID string, index int) string {
	return fmt.Sprintf("%s/%08d", fileID, index)
}
