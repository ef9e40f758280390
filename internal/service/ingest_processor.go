package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// IngestConfig tunes the queue workers.
type IngestConfig struct {
	NumWorkers   int
	PollTimeout  time.Duration
	MaxAttempts  int
	DefaultOwner string
}

// IngestProcessorService uploads the files queued by the path watchers.
type IngestProcessorService struct {
	queue     adapter.RedisOperationalClient
	manifests adapter.ManifestStore
	uploader  *Uploader
	cfg       IngestConfig
}

// IngestProcessor defines the queue operations run by the serve command.
type IngestProcessor interface {
	ProcessQueue(ctx context.Context) error
	ProcessPendingQueue(ctx context.Context) error
}

func NewIngestProcessorService(queue adapter.RedisOperationalClient, manifests adapter.ManifestStore, uploader *Uploader, cfg IngestConfig) *IngestProcessorService {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &IngestProcessorService{
		queue:     queue,
		manifests: manifests,
		uploader:  uploader,
		cfg:       cfg,
	}
}

// ProcessQueue runs NumWorkers workers against the new-jobs queue until ctx is done.
func (s *IngestProcessorService) ProcessQueue(ctx context.Context) error {
	var wg sync.WaitGroup
	slog.Info("Starting workers", "numWorkers", s.cfg.NumWorkers)
	dequeue := func(ctx context.Context) (adapter.FilePath, error) {
		return s.queue.DequeueInProgress(ctx, s.cfg.PollTimeout)
	}
	for i := range s.cfg.NumWorkers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			slog.Info(fmt.Sprintf("Starting worker %d/%d", workerID, s.cfg.NumWorkers))
			if err := s.processQueueWithDequeueFunc(ctx, workerID, dequeue, false); err != nil {
				slog.Error("Worker stopped", "workerID", workerID, "err", err)
			}
		}(i + 1)
	}
	wg.Wait()
	return ctx.Err()
}

// ProcessPendingQueue drains the jobs a previous run left in progress using a single worker.
// Entries stay in the in-progress list while they run, so only as many as were pending
// at start are taken.
func (s *IngestProcessorService) ProcessPendingQueue(ctx context.Context) error {
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	slog.Info("Resuming files left in progress", "pending", pending)
	dequeue := func(ctx context.Context) (adapter.FilePath, error) {
		if pending == 0 {
			return "", redis.Nil
		}
		pending--
		return s.queue.DequeueStaleFile(ctx)
	}
	return s.processQueueWithDequeueFunc(ctx, 0, dequeue, true)
}

// processQueueWithDequeueFunc handles jobs from dequeue until ctx is done. An empty queue
// (redis.Nil) ends the loop when stopOnEmpty is set and is polled again otherwise.
func (s *IngestProcessorService) processQueueWithDequeueFunc(ctx context.Context, workerID int, dequeue func(context.Context) (adapter.FilePath, error), stopOnEmpty bool) error {
	for ctx.Err() == nil {
		path, err := dequeue(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if stopOnEmpty {
					slog.Info("No more files to process", "workerID", workerID)
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				break
			}
			slog.Error("Error dequeuing file", "workerID", workerID, "err", err)
			return err
		}
		slog.Info("Dequeued file", "workerID", workerID, "path", path)
		if err := s.processJob(ctx, workerID, path); err != nil {
			slog.Error("Error processing file", "workerID", workerID, "path", path, "err", err)
			// Continue with the next job
		}
	}
	return nil
}

// processJob uploads a single queued file. The job gets its file id before the upload starts,
// so a retry after a crash between manifest creation and completion finds the manifest and stops.
func (s *IngestProcessorService) processJob(ctx context.Context, workerID int, path adapter.FilePath) error {
	job, err := s.queue.GetIngestJob(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("Dropping queue entry without a job record", "workerID", workerID, "path", path)
			return s.queue.RequeueFailed(ctx, path)
		}
		return err
	}

	if job.FileID != "" {
		if _, err := s.manifests.Get(ctx, job.FileID); err == nil {
			slog.Info("Manifest already stored", "workerID", workerID, "path", path, "fileID", job.FileID)
			return s.complete(ctx, job)
		}
	} else {
		job.FileID = uuid.NewString()
	}
	if job.Owner == "" {
		job.Owner = s.cfg.DefaultOwner
	}
	job.Status = domain.IngestStatusRunning
	job.Attempts++
	current, err := s.queue.UpdateIngestJob(ctx, job)
	if err != nil {
		return err
	}
	if !current {
		slog.Info("File was queued again, leaving it to the newer entry", "workerID", workerID, "path", path)
		return s.queue.RequeueFailed(ctx, path)
	}

	manifest, err := s.uploader.Upload(ctx, UploadRequest{
		Source:    FileSource{Path: job.Path},
		ChunkSize: s.uploader.ChunkSizeOrDefault(job.ChunkSize),
		Owner:     job.Owner,
		FileID:    job.FileID,
	})
	if err != nil {
		return s.fail(ctx, job, err)
	}
	slog.Info("Ingested file", "workerID", workerID, "path", path, "fileID", manifest.FileID, "chunks", manifest.ChunkCount)
	return s.complete(ctx, job)
}

// complete marks the job done unless the file was queued again while it ran. The newer
// record is then left queued so the rewritten file gets its own upload.
func (s *IngestProcessorService) complete(ctx context.Context, job domain.IngestJob) error {
	job.Status = domain.IngestStatusCompleted
	job.LastError = ""
	current, err := s.queue.UpdateIngestJob(ctx, job)
	if err != nil {
		return err
	}
	if !current {
		slog.Info("File was queued again while uploading", "path", job.Path, "fileID", job.FileID)
	}
	return s.queue.DequeueCompleted(ctx, job.Path)
}

// fail records the error and queues the job again while attempts remain.
// Invalid input is never retried. A cancelled job stays in the in-progress list.
func (s *IngestProcessorService) fail(ctx context.Context, job domain.IngestJob, cause error) error {
	// The job record must be written even when the upload was cancelled.
	ctx = context.WithoutCancel(ctx)
	job.LastError = cause.Error()
	if errors.Is(cause, context.Canceled) {
		// Both dequeue paths leave the entry in progress, so the next start picks it up.
		job.Status = domain.IngestStatusQueued
		if _, err := s.queue.UpdateIngestJob(ctx, job); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}
	if err := s.queue.RequeueFailed(ctx, job.Path); err != nil {
		return errors.Join(cause, err)
	}
	retry := !errors.Is(cause, domain.ErrInvalidInput) && job.Attempts < s.cfg.MaxAttempts
	job.Status = domain.IngestStatusFailed
	if retry {
		job.Status = domain.IngestStatusQueued
	}
	current, err := s.queue.UpdateIngestJob(ctx, job)
	if err != nil {
		return errors.Join(cause, err)
	}
	if !current {
		slog.Info("File was queued again, dropping the failed attempt", "path", job.Path, "err", cause)
		return cause
	}
	if retry {
		slog.Warn("Requeueing failed file", "path", job.Path, "attempts", job.Attempts, "err", cause)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return errors.Join(cause, err)
		}
	}
	return cause
}
